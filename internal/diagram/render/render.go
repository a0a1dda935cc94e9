// Package render executes diagram-generation tools: a vector circuit
// renderer, a timing-waveform renderer, a sandboxed code renderer, and an
// AI image engine. Every tool produces a PNG.
package render

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"

	"github.com/brightmark/assignment-backend/internal/platform/localmedia"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
	"github.com/brightmark/assignment-backend/internal/platform/openai"
)

// Tool names as declared to the decide-stage model.
const (
	ToolCircuit  = "circuit_renderer"
	ToolWaveform = "waveform_renderer"
	ToolCode     = "code_renderer"
	ToolAIImage  = "ai_image"
)

// Request is one tool invocation. Args carries the model's tool-call
// arguments verbatim; Description is the free-text diagram description
// every tool receives.
type Request struct {
	Tool        string
	Description string
	Args        map[string]any
}

// Result is a rendered diagram.
type Result struct {
	PNG  []byte
	Tool string
}

type Renderer struct {
	log   *logger.Logger
	llm   openai.Client
	tools localmedia.Tools
	face  font.Face
}

func NewRenderer(log *logger.Logger, llm openai.Client, tools localmedia.Tools) *Renderer {
	return &Renderer{
		log:   log.With("component", "diagram_renderer"),
		llm:   llm,
		tools: tools,
		face:  loadLabelFace(log),
	}
}

// loadLabelFace loads the TTF named by DIAGRAM_FONT for diagram labels.
// Without one, drawing falls back to the context's built-in face.
func loadLabelFace(log *logger.Logger) font.Face {
	path := strings.TrimSpace(os.Getenv("DIAGRAM_FONT"))
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Diagram font unreadable, using built-in face", "font", path, "error", err.Error())
		return nil
	}
	parsed, err := truetype.Parse(data)
	if err != nil {
		log.Warn("Diagram font unparsable, using built-in face", "font", path, "error", err.Error())
		return nil
	}
	return truetype.NewFace(parsed, &truetype.Options{Size: 14, Hinting: font.HintingNone})
}

// Execute dispatches one tool request.
func (r *Renderer) Execute(ctx context.Context, req Request) (Result, error) {
	switch req.Tool {
	case ToolCircuit:
		png, err := r.renderCircuit(req)
		return Result{PNG: png, Tool: ToolCircuit}, err
	case ToolWaveform:
		png, err := r.renderWaveform(req)
		return Result{PNG: png, Tool: ToolWaveform}, err
	case ToolCode:
		png, err := r.renderFromCode(ctx, req)
		return Result{PNG: png, Tool: ToolCode}, err
	case ToolAIImage:
		png, err := r.renderAIImage(ctx, req)
		return Result{PNG: png, Tool: ToolAIImage}, err
	default:
		return Result{}, fmt.Errorf("unknown diagram tool %q", req.Tool)
	}
}

// ToolDefs declares the callable tools for the decide-stage model.
func ToolDefs() []openai.ToolDef {
	return []openai.ToolDef{
		{
			Name:        ToolCircuit,
			Description: "Render an electrical or logic circuit schematic from a structured element list.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": map[string]any{"type": "string", "description": "Full prose description of the circuit using only values given in the question."},
					"elements": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"kind":  map[string]any{"type": "string", "enum": []string{"resistor", "capacitor", "inductor", "battery", "switch", "and_gate", "or_gate", "not_gate", "xor_gate", "dff", "wire"}},
								"label": map[string]any{"type": "string"},
							},
							"required":             []string{"kind", "label"},
							"additionalProperties": false,
						},
					},
				},
				"required":             []string{"description", "elements"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolWaveform,
			Description: "Render a digital timing diagram. Output or to-be-determined signals are drawn as blank rows.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": map[string]any{"type": "string"},
					"time_units":  map[string]any{"type": "integer", "description": "Number of time divisions on the horizontal axis."},
					"signals": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"name": map[string]any{"type": "string"},
								"role": map[string]any{"type": "string", "enum": []string{"input", "output"}},
								"levels": map[string]any{
									"type":        "array",
									"items":       map[string]any{"type": "integer"},
									"description": "Logic level (0/1) per time unit. Required for inputs; ignored for outputs, which render blank.",
								},
							},
							"required":             []string{"name", "role", "levels"},
							"additionalProperties": false,
						},
					},
				},
				"required":             []string{"description", "time_units", "signals"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolCode,
			Description: "Render a plot, graph, geometric figure, or data-structure diagram by executing short Python plotting code.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": map[string]any{"type": "string", "description": "What the figure must show, using only quantities given in the question."},
				},
				"required":             []string{"description"},
				"additionalProperties": false,
			},
		},
		{
			Name:        ToolAIImage,
			Description: "Generate an illustrative image for setups that do not need geometric precision.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": map[string]any{"type": "string"},
				},
				"required":             []string{"description"},
				"additionalProperties": false,
			},
		},
	}
}
