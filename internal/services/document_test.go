package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/brightmark/assignment-backend/internal/assignment/extract"
	"github.com/brightmark/assignment-backend/internal/assignment/parser"
	"github.com/brightmark/assignment-backend/internal/assignment/schema"
	"github.com/brightmark/assignment-backend/internal/diagram/agent"
	"github.com/brightmark/assignment-backend/internal/diagram/render"
	"github.com/brightmark/assignment-backend/internal/diagram/router"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
	"github.com/brightmark/assignment-backend/internal/platform/openai"
)

func testLog() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

type fakeLLM struct {
	jsonFn      func(schemaName, user string) (map[string]any, error)
	toolsFn     func(system, user string) (openai.ToolResponse, error)
	decideCalls atomic.Int64
}

func (f *fakeLLM) GenerateJSON(_ context.Context, _ string, user string, schemaName string, _ map[string]any) (map[string]any, error) {
	return f.jsonFn(schemaName, user)
}

func (f *fakeLLM) GenerateJSONWithImages(_ context.Context, _ string, user string, _ []openai.ImageInput, schemaName string, _ map[string]any) (map[string]any, error) {
	return f.jsonFn(schemaName, user)
}

func (f *fakeLLM) GenerateText(context.Context, string, string) (string, error) {
	return "", errors.New("not configured")
}

func (f *fakeLLM) GenerateTextWithImages(context.Context, string, string, []openai.ImageInput) (string, error) {
	return "", errors.New("not configured")
}

func (f *fakeLLM) GenerateWithTools(_ context.Context, system, user string, _ []openai.ToolDef) (openai.ToolResponse, error) {
	f.decideCalls.Add(1)
	if f.toolsFn == nil {
		return openai.ToolResponse{}, errors.New("not configured")
	}
	return f.toolsFn(system, user)
}

func (f *fakeLLM) GenerateImage(context.Context, string) (openai.ImageGeneration, error) {
	return openai.ImageGeneration{}, errors.New("not configured")
}

func newService(llm *fakeLLM) DocumentService {
	log := testLog()
	extractor := extract.NewExtractor(log, nil, llm, nil)
	p := parser.NewParser(log, llm, nil, nil)
	a := agent.NewAgent(log, llm, router.NewDomainRouter(log, llm), render.NewRenderer(log, llm, nil), nil)
	return NewDocumentService(log, extractor, p, a, nil)
}

func pipelineLLM() *fakeLLM {
	f := &fakeLLM{}
	f.jsonFn = func(schemaName, _ string) (map[string]any, error) {
		switch schemaName {
		case "assignment_extraction":
			return map[string]any{"questions": []any{
				map[string]any{"id": float64(1), "type": "numerical", "points": float64(5),
					"question": "Solve 2x+5=13 for x.", "correctAnswer": "x = 4", "rubric": "full credit"},
			}}, nil
		case "diagram_classification":
			return map[string]any{"domain": "mathematics", "diagram_type": "plot",
				"ai_suitable": false, "preferred_tool": render.ToolCode}, nil
		}
		return nil, errors.New("unexpected schema " + schemaName)
	}
	f.toolsFn = func(_, _ string) (openai.ToolResponse, error) {
		return openai.ToolResponse{Content: "No diagram needed."}, nil
	}
	return f
}

func TestExtractDocumentTextPipeline(t *testing.T) {
	svc := newService(pipelineLLM())
	a, err := svc.ExtractDocument(context.Background(),
		[]byte("Q1 (5 points): Solve 2x+5=13 for x."),
		"algebra_quiz.txt", "text/plain",
		ExtractOptions{GenerateDiagrams: true, DiagramMode: DiagramModeIntelligent})
	if err != nil {
		t.Fatalf("ExtractDocument: %v", err)
	}
	if a.Title != "algebra quiz" {
		t.Fatalf("title = %q", a.Title)
	}
	if len(a.Questions) != 1 || a.Questions[0].CorrectAnswer != "x = 4" {
		t.Fatalf("unexpected questions: %+v", a.Questions)
	}
	if a.TotalPoints != 5 {
		t.Fatalf("total points = %v", a.TotalPoints)
	}
}

func TestExtractDocumentRejectsUnsupportedMime(t *testing.T) {
	svc := newService(pipelineLLM())
	_, err := svc.ExtractDocument(context.Background(), []byte{0x1f, 0x8b},
		"archive.tar.gz", "application/gzip", ExtractOptions{})
	if err == nil {
		t.Fatal("expected an error for an unsupported mime type")
	}
}

func TestGenerousModeTriggersSecondPass(t *testing.T) {
	llm := pipelineLLM()
	svc := newService(llm)
	questions := []*schema.Question{
		{ID: 1, Type: schema.TypeNumerical, Question: "Q one"},
		{ID: 2, Type: schema.TypeNumerical, Question: "Q two"},
		{ID: 3, Type: schema.TypeNumerical, Question: "Q three"},
	}
	out := svc.GenerateDiagrams(context.Background(), questions, "a1",
		ExtractOptions{DiagramMode: DiagramModeGenerous})
	if len(out) != 3 {
		t.Fatalf("expected 3 questions back, got %d", len(out))
	}
	// Every question declines in both passes: one decide call per
	// question per pass.
	if n := llm.decideCalls.Load(); n != 6 {
		t.Fatalf("expected 6 decide calls (two passes), got %d", n)
	}
}

func TestIntelligentModeRunsOnePass(t *testing.T) {
	llm := pipelineLLM()
	svc := newService(llm)
	questions := []*schema.Question{{ID: 1, Type: schema.TypeNumerical, Question: "Q one"}}
	svc.GenerateDiagrams(context.Background(), questions, "a1",
		ExtractOptions{DiagramMode: DiagramModeIntelligent})
	if n := llm.decideCalls.Load(); n != 1 {
		t.Fatalf("expected a single decide call, got %d", n)
	}
}
