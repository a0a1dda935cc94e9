package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/brightmark/assignment-backend/internal/assignment/schema"
	"github.com/brightmark/assignment-backend/internal/diagram/render"
	"github.com/brightmark/assignment-backend/internal/diagram/router"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
	"github.com/brightmark/assignment-backend/internal/platform/openai"
)

func testLog() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

type fakeLLM struct {
	jsonFn     func(schemaName, user string) (map[string]any, error)
	textFn     func(system, user string) (string, error)
	toolsFn    func(system, user string, tools []openai.ToolDef) (openai.ToolResponse, error)
	imageFn    func(prompt string) (openai.ImageGeneration, error)
	imageCalls atomic.Int64
}

func (f *fakeLLM) GenerateJSON(_ context.Context, _ string, user string, schemaName string, _ map[string]any) (map[string]any, error) {
	return f.jsonFn(schemaName, user)
}

func (f *fakeLLM) GenerateJSONWithImages(_ context.Context, _ string, user string, _ []openai.ImageInput, schemaName string, _ map[string]any) (map[string]any, error) {
	return f.jsonFn(schemaName, user)
}

func (f *fakeLLM) GenerateText(_ context.Context, system, user string) (string, error) {
	if f.textFn == nil {
		return "", errors.New("not configured")
	}
	return f.textFn(system, user)
}

func (f *fakeLLM) GenerateTextWithImages(_ context.Context, system, user string, _ []openai.ImageInput) (string, error) {
	return f.GenerateText(nil, system, user)
}

func (f *fakeLLM) GenerateWithTools(_ context.Context, system, user string, tools []openai.ToolDef) (openai.ToolResponse, error) {
	if f.toolsFn == nil {
		return openai.ToolResponse{}, errors.New("not configured")
	}
	return f.toolsFn(system, user, tools)
}

func (f *fakeLLM) GenerateImage(_ context.Context, prompt string) (openai.ImageGeneration, error) {
	f.imageCalls.Add(1)
	if f.imageFn == nil {
		return openai.ImageGeneration{}, errors.New("not configured")
	}
	return f.imageFn(prompt)
}

func newTestAgent(llm *fakeLLM) *Agent {
	log := testLog()
	return NewAgent(log, llm, router.NewDomainRouter(log, llm), render.NewRenderer(log, llm, nil), nil)
}

func classificationResponse(domain, diagramType string, aiSuitable bool, tool string) map[string]any {
	return map[string]any{
		"domain":         domain,
		"diagram_type":   diagramType,
		"ai_suitable":    aiSuitable,
		"preferred_tool": tool,
	}
}

func TestDeclineIsTerminal(t *testing.T) {
	llm := &fakeLLM{
		jsonFn: func(schemaName, _ string) (map[string]any, error) {
			if schemaName == "diagram_classification" {
				return classificationResponse("mathematics", "plot", false, render.ToolCode), nil
			}
			return nil, errors.New("unexpected call " + schemaName)
		},
		toolsFn: func(_, _ string, _ []openai.ToolDef) (openai.ToolResponse, error) {
			return openai.ToolResponse{Content: "No diagram needed."}, nil
		},
	}
	a := newTestAgent(llm)
	q := &schema.Question{ID: 1, Type: schema.TypeShortAnswer, Question: "Define entropy."}
	got, err := a.processQuestion(context.Background(), q, Options{AssignmentID: "a1"})
	if err != nil {
		t.Fatalf("processQuestion: %v", err)
	}
	if got.HasDiagram || got.Diagram != nil {
		t.Fatalf("declined question must stay unchanged: %+v", got)
	}
}

func TestProcessQuestionCircuitToolAttachesDiagram(t *testing.T) {
	llm := &fakeLLM{
		jsonFn: func(schemaName, _ string) (map[string]any, error) {
			switch schemaName {
			case "diagram_classification":
				return classificationResponse("electrical_engineering", "circuit", false, render.ToolCircuit), nil
			case "diagram_review":
				return map[string]any{"pass": true, "reasoning": "ok", "issues": []any{}, "fixable": false, "corrected_description": ""}, nil
			case "question_rewrite":
				return map[string]any{"question": "For the circuit in the diagram below with R = 4 Ω and V = 12 V, find the current."}, nil
			}
			return nil, errors.New("unexpected call " + schemaName)
		},
		toolsFn: func(_, _ string, _ []openai.ToolDef) (openai.ToolResponse, error) {
			return openai.ToolResponse{ToolCalls: []openai.ToolCall{{
				Name: render.ToolCircuit,
				Arguments: map[string]any{
					"description": "12 V source in series with a 4 ohm resistor",
					"elements": []any{
						map[string]any{"kind": "battery", "label": "12 V"},
						map[string]any{"kind": "resistor", "label": "R = 4 Ω"},
					},
				},
			}}}, nil
		},
	}
	a := newTestAgent(llm)
	q := &schema.Question{ID: 3, Type: schema.TypeNumerical, Question: "A 12 V source drives a 4 Ω resistor. Find the current."}
	got, err := a.processQuestion(context.Background(), q, Options{AssignmentID: "a1"})
	if err != nil {
		t.Fatalf("processQuestion: %v", err)
	}
	if !got.HasDiagram || got.Diagram == nil {
		t.Fatalf("diagram not attached: %+v", got)
	}
	if got.Diagram.Caption == "" {
		t.Fatal("diagram caption missing")
	}
	if got.Question == q.Question {
		t.Fatal("question text was not rewritten")
	}
	// The input tree must not be mutated.
	if q.HasDiagram || q.Diagram != nil {
		t.Fatalf("input question mutated: %+v", q)
	}
}

func TestAIImageLoopStopsAfterMaxAttempts(t *testing.T) {
	llm := &fakeLLM{
		jsonFn: func(schemaName, _ string) (map[string]any, error) {
			if schemaName == "diagram_review" {
				return map[string]any{
					"pass": false, "reasoning": "wrong topology",
					"issues": []any{"missing resistor"}, "fixable": false,
					"corrected_description": "",
				}, nil
			}
			return nil, errors.New("unexpected call " + schemaName)
		},
		imageFn: func(string) (openai.ImageGeneration, error) {
			return openai.ImageGeneration{Bytes: []byte{0x89, 0x50, 0x4e, 0x47}, MimeType: "image/png"}, nil
		},
	}
	a := newTestAgent(llm)
	q := &schema.Question{ID: 2, Question: "Sketch the apparatus."}
	cls := router.Classification{Domain: "chemistry", DiagramType: "apparatus", AISuitable: true}
	_, err := a.aiImageLoop(context.Background(), q, cls, "beaker over a burner", q.Question)
	if err == nil {
		t.Fatal("expected the loop to exhaust its attempts")
	}
	if n := llm.imageCalls.Load(); n != 3 {
		t.Fatalf("expected exactly 3 generation attempts, got %d", n)
	}
}

func TestAnalyzeAndGenerateIsolatesFailures(t *testing.T) {
	llm := &fakeLLM{
		jsonFn: func(schemaName, _ string) (map[string]any, error) {
			return nil, errors.New("classifier down")
		},
	}
	a := newTestAgent(llm)
	in := []*schema.Question{
		{ID: 1, Question: "Q one"},
		{ID: 2, Question: "Q two"},
	}
	out := a.AnalyzeAndGenerate(context.Background(), in, Options{AssignmentID: "a1"})
	if len(out) != 2 {
		t.Fatalf("expected both questions back, got %d", len(out))
	}
	if out[0] != in[0] || out[1] != in[1] {
		t.Fatal("failed questions must be returned unmodified")
	}
}

func TestPreservesGivens(t *testing.T) {
	orig := "A 12 V source drives R = <eq q3_eq1> at 4.5 A."
	good := "Using the diagram below, a 12 V source drives R = <eq q3_eq1> at 4.5 A."
	bad := "Using the diagram below, the source drives R = <eq q3_eq1>."
	if !preservesGivens(orig, good) {
		t.Fatal("faithful rewrite rejected")
	}
	if preservesGivens(orig, bad) {
		t.Fatal("rewrite dropping numbers accepted")
	}
	if preservesGivens(orig, "A 12 V source drives R at 4.5 A.") {
		t.Fatal("rewrite dropping a placeholder accepted")
	}
}

func TestPromoteDiagramAnalysisType(t *testing.T) {
	q := &schema.Question{Type: schema.TypeShortAnswer, Question: "Complete the timing diagram for Q over four clock cycles."}
	promoteDiagramAnalysisType(q, "timing_waveform")
	if q.Type != schema.TypeDiagramAnalysis {
		t.Fatalf("expected promotion, got %q", q.Type)
	}

	plain := &schema.Question{Type: schema.TypeShortAnswer, Question: "Explain the output behavior."}
	promoteDiagramAnalysisType(plain, "timing_waveform")
	if plain.Type != schema.TypeShortAnswer {
		t.Fatalf("question without draw phrase promoted: %q", plain.Type)
	}

	essay := &schema.Question{Type: schema.TypeLongAnswer, Question: "Draw the waveform and discuss."}
	promoteDiagramAnalysisType(essay, "timing_waveform")
	if essay.Type != schema.TypeLongAnswer {
		t.Fatalf("non-promotable type promoted: %q", essay.Type)
	}
}
