package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/brightmark/assignment-backend/internal/diagram/render"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
	"github.com/brightmark/assignment-backend/internal/platform/openai"
)

type classifyFake struct {
	calls    atomic.Int64
	response map[string]any
	err      error
}

func (f *classifyFake) GenerateJSON(context.Context, string, string, string, map[string]any) (map[string]any, error) {
	f.calls.Add(1)
	return f.response, f.err
}

func (f *classifyFake) GenerateJSONWithImages(context.Context, string, string, []openai.ImageInput, string, map[string]any) (map[string]any, error) {
	return nil, errors.New("not used")
}
func (f *classifyFake) GenerateText(context.Context, string, string) (string, error) {
	return "", errors.New("not used")
}
func (f *classifyFake) GenerateTextWithImages(context.Context, string, string, []openai.ImageInput) (string, error) {
	return "", errors.New("not used")
}
func (f *classifyFake) GenerateWithTools(context.Context, string, string, []openai.ToolDef) (openai.ToolResponse, error) {
	return openai.ToolResponse{}, errors.New("not used")
}
func (f *classifyFake) GenerateImage(context.Context, string) (openai.ImageGeneration, error) {
	return openai.ImageGeneration{}, errors.New("not used")
}

func newRouter(fake *classifyFake) *DomainRouter {
	log := &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
	return NewDomainRouter(log, fake)
}

func TestClassifyMemoizesPerQuestionText(t *testing.T) {
	fake := &classifyFake{response: map[string]any{
		"domain": "physics", "diagram_type": "free_body", "ai_suitable": false, "preferred_tool": render.ToolCode,
	}}
	r := newRouter(fake)

	first, err := r.Classify(context.Background(), "A block on an incline.", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	second, err := r.Classify(context.Background(), "A block on an incline.", "")
	if err != nil {
		t.Fatalf("Classify (memoized): %v", err)
	}
	if first != second {
		t.Fatalf("memoized result differs: %+v vs %+v", first, second)
	}
	if n := fake.calls.Load(); n != 1 {
		t.Fatalf("expected 1 model call, got %d", n)
	}
}

func TestClassifyVetoesAIForPreciseTypes(t *testing.T) {
	fake := &classifyFake{response: map[string]any{
		"domain": "electrical_engineering", "diagram_type": "timing_waveform",
		"ai_suitable": true, "preferred_tool": render.ToolAIImage,
	}}
	r := newRouter(fake)
	c, err := r.Classify(context.Background(), "Complete the timing diagram.", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.AISuitable {
		t.Fatal("timing_waveform must never route to the AI image engine")
	}
	if c.PreferredTool != render.ToolWaveform {
		t.Fatalf("expected the waveform renderer, got %q", c.PreferredTool)
	}
}

func TestClassifyAllowsAIForAllowListedTypes(t *testing.T) {
	fake := &classifyFake{response: map[string]any{
		"domain": "chemistry", "diagram_type": "apparatus",
		"ai_suitable": true, "preferred_tool": render.ToolCode,
	}}
	r := newRouter(fake)
	c, err := r.Classify(context.Background(), "Sketch the distillation setup.", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !c.AISuitable || c.PreferredTool != render.ToolAIImage {
		t.Fatalf("apparatus should route to the AI engine: %+v", c)
	}
}

func TestFallbackRouterTable(t *testing.T) {
	var fr FallbackRouter

	tool, args := fr.BuildToolArguments("electrical_engineering", "circuit", "series RC", "question text")
	if tool != render.ToolCode {
		t.Fatalf("circuit fallback should be the code renderer, got %q", tool)
	}
	if args["description"] != "series RC" {
		t.Fatalf("description not carried: %v", args)
	}
	if g, _ := args["guidance"].(string); g == "" {
		t.Fatal("guidance must always be present")
	}

	// Domain wildcard row.
	tool, _ = fr.BuildToolArguments("electrical_engineering", "unknown_type", "d", "q")
	if tool != render.ToolCircuit {
		t.Fatalf("domain wildcard should pick the circuit renderer, got %q", tool)
	}

	// Unknown domain falls back to the code renderer.
	tool, _ = fr.BuildToolArguments("astrology", "tarot", "d", "q")
	if tool != render.ToolCode {
		t.Fatalf("unknown domain should pick the code renderer, got %q", tool)
	}

	// Deterministic for identical input.
	t1, _ := fr.BuildToolArguments("physics", "plot", "d", "q")
	t2, _ := fr.BuildToolArguments("physics", "plot", "d", "q")
	if t1 != t2 {
		t.Fatal("fallback selection must be deterministic")
	}
}
