package router

import (
	"github.com/brightmark/assignment-backend/internal/diagram/prompts"
	"github.com/brightmark/assignment-backend/internal/diagram/render"
)

// fallbackTools maps "domain/diagram_type" to the secondary tool tried
// when the preferred one fails. Missing entries fall back to the domain
// row ("domain/*") and finally to the code renderer, which can draw
// almost anything given plotting code.
var fallbackTools = map[string]string{
	"electrical_engineering/circuit":         render.ToolCode,
	"electrical_engineering/logic_circuit":   render.ToolCode,
	"electrical_engineering/timing_waveform": render.ToolCircuit,
	"electrical_engineering/*":               render.ToolCircuit,
	"computer_science/logic_circuit":         render.ToolCircuit,
	"computer_science/timing_waveform":       render.ToolWaveform,
	"computer_science/*":                     render.ToolCode,
	"physics/*":                              render.ToolCode,
	"mathematics/*":                          render.ToolCode,
	"economics/*":                            render.ToolCode,
	"chemistry/*":                            render.ToolCode,
}

func defaultToolFor(domain, diagramType string) string {
	switch normalizeKey(diagramType) {
	case "circuit", "logic_circuit":
		return render.ToolCircuit
	case "timing_waveform":
		return render.ToolWaveform
	default:
		return render.ToolCode
	}
}

// FallbackRouter picks the secondary rendering tool and builds its
// arguments. Pure table lookups, deterministic for a given input.
type FallbackRouter struct{}

// BuildToolArguments returns the fallback tool for (domain, diagram_type)
// together with ready-to-execute arguments carrying the description and
// the subject guidance for that tool.
func (FallbackRouter) BuildToolArguments(domain, diagramType, description, questionText string) (string, map[string]any) {
	domain = normalizeKey(domain)
	diagramType = normalizeKey(diagramType)

	tool, ok := fallbackTools[domain+"/"+diagramType]
	if !ok {
		tool, ok = fallbackTools[domain+"/*"]
	}
	if !ok {
		tool = render.ToolCode
	}

	args := map[string]any{
		"description":   description,
		"question_text": questionText,
		"guidance":      prompts.ToolGuidance(domain, diagramType, tool),
		"diagram_type":  diagramType,
	}
	return tool, args
}
