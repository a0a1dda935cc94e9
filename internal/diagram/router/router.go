// Package router holds the pure policy components in front of diagram
// generation: a model-backed domain classifier and the deterministic
// fallback-tool table.
package router

import (
	"context"
	"strings"
	"sync"

	"github.com/brightmark/assignment-backend/internal/diagram/render"
	"github.com/brightmark/assignment-backend/internal/platform/envutil"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
	"github.com/brightmark/assignment-backend/internal/platform/openai"
)

// Classification is the routing decision for one question: which subject
// area it belongs to, what kind of visual it needs, whether an AI image
// engine is appropriate, and which renderer to try first.
type Classification struct {
	Domain        string
	DiagramType   string
	AISuitable    bool
	PreferredTool string
}

// DomainRouter classifies question text into a Classification. Results
// are memoized per question text so retries within one run reclassify
// consistently.
type DomainRouter struct {
	log *logger.Logger
	llm openai.Client

	mu   sync.Mutex
	memo map[string]Classification
}

func NewDomainRouter(log *logger.Logger, llm openai.Client) *DomainRouter {
	return &DomainRouter{
		log:  log.With("component", "domain_router"),
		llm:  llm,
		memo: map[string]Classification{},
	}
}

const classifySystemPrompt = `Classify an assignment question for diagram generation. Report the subject domain (electrical_engineering, physics, mathematics, computer_science, chemistry, biology, economics, or general), the visual category (circuit, logic_circuit, timing_waveform, free_body, plot, graph, geometry, flowchart, data_structure, chemical_structure, apparatus, or illustration), whether a photorealistic/illustrative AI image would serve better than a precise technical renderer, and the single best rendering tool.`

func classificationSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"domain":       map[string]any{"type": "string"},
			"diagram_type": map[string]any{"type": "string"},
			"ai_suitable":  map[string]any{"type": "boolean"},
			"preferred_tool": map[string]any{
				"type": "string",
				"enum": []string{render.ToolCircuit, render.ToolWaveform, render.ToolCode, render.ToolAIImage},
			},
		},
		"required":             []string{"domain", "diagram_type", "ai_suitable", "preferred_tool"},
		"additionalProperties": false,
	}
}

// Classify routes a question. subjectHint, when non-empty, biases the
// classifier but never overrides it.
func (r *DomainRouter) Classify(ctx context.Context, questionText, subjectHint string) (Classification, error) {
	key := strings.TrimSpace(questionText)

	r.mu.Lock()
	if c, ok := r.memo[key]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	user := "Question:\n" + questionText
	if strings.TrimSpace(subjectHint) != "" {
		user += "\n\nCourse subject hint: " + subjectHint
	}
	raw, err := r.llm.GenerateJSON(ctx, classifySystemPrompt, user, "diagram_classification", classificationSchema())
	if err != nil {
		return Classification{}, err
	}

	c := Classification{
		Domain:        normalizeKey(stringField(raw, "domain", "general")),
		DiagramType:   normalizeKey(stringField(raw, "diagram_type", "illustration")),
		PreferredTool: stringField(raw, "preferred_tool", render.ToolCode),
	}
	if v, ok := raw["ai_suitable"].(bool); ok {
		c.AISuitable = v
	}
	// The AI-image engine only applies to visual categories on the
	// explicit allow-list; precise technical categories always take the
	// renderer path even when the classifier votes otherwise.
	if c.AISuitable && !aiSuitableTypes()[c.DiagramType] {
		r.log.Debug("AI image vetoed by diagram type", "diagram_type", c.DiagramType)
		c.AISuitable = false
	}
	if c.AISuitable {
		c.PreferredTool = render.ToolAIImage
	} else if c.PreferredTool == render.ToolAIImage {
		c.PreferredTool = defaultToolFor(c.Domain, c.DiagramType)
	}

	r.mu.Lock()
	r.memo[key] = c
	r.mu.Unlock()
	return c, nil
}

// aiSuitableTypes is the diagram-type allow-list for the AI image engine,
// configurable through DIAGRAM_AI_TYPES (comma-separated).
func aiSuitableTypes() map[string]bool {
	raw := envutil.Str("DIAGRAM_AI_TYPES", "illustration,apparatus,chemical_structure,geometry,free_body")
	out := map[string]bool{}
	for _, t := range strings.Split(raw, ",") {
		if t = normalizeKey(t); t != "" {
			out[t] = true
		}
	}
	return out
}

func stringField(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return def
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_")))
}
