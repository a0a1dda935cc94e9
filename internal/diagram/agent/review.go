package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/brightmark/assignment-backend/internal/assignment/equations"
	"github.com/brightmark/assignment-backend/internal/assignment/schema"
	"github.com/brightmark/assignment-backend/internal/diagram/prompts"
	"github.com/brightmark/assignment-backend/internal/diagram/render"
	"github.com/brightmark/assignment-backend/internal/diagram/router"
	"github.com/brightmark/assignment-backend/internal/platform/envutil"
	"github.com/brightmark/assignment-backend/internal/platform/openai"
)

type reviewResult struct {
	Pass                 bool
	Reasoning            string
	Issues               []string
	Fixable              bool
	CorrectedDescription string
}

const reviewSystemPrompt = `You review a generated assignment diagram against the question it illustrates. Check: every labeled quantity matches the question exactly; nothing the student is asked to determine appears in the image (no computed results, no output signal values, no solved forces, no marked answers); output or to-be-determined waveform rows are blank; the figure is legible. Report pass/fail with reasoning and concrete issues. Mark fixable=true when a correction instruction could repair the same image; when the description itself was wrong, supply a corrected_description.`

func reviewSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pass":      map[string]any{"type": "boolean"},
			"reasoning": map[string]any{"type": "string"},
			"issues": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"fixable":               map[string]any{"type": "boolean"},
			"corrected_description": map[string]any{"type": "string"},
		},
		"required":             []string{"pass", "reasoning", "issues", "fixable", "corrected_description"},
		"additionalProperties": false,
	}
}

func (a *Agent) reviewImage(ctx context.Context, q *schema.Question, description string, image []byte) (reviewResult, error) {
	user := fmt.Sprintf("Question (for context):\n%s\n\nGeneration description:\n%s",
		equations.Strip(q.Question), description)
	raw, err := a.llm.GenerateJSONWithImages(ctx, reviewSystemPrompt, user,
		[]openai.ImageInput{{ImageURL: pngDataURL(image), Detail: "high"}},
		"diagram_review", reviewSchema())
	if err != nil {
		return reviewResult{}, err
	}
	rv := reviewResult{}
	rv.Pass, _ = raw["pass"].(bool)
	rv.Fixable, _ = raw["fixable"].(bool)
	rv.Reasoning, _ = raw["reasoning"].(string)
	rv.CorrectedDescription, _ = raw["corrected_description"].(string)
	if issues, ok := raw["issues"].([]any); ok {
		for _, it := range issues {
			if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
				rv.Issues = append(rv.Issues, s)
			}
		}
	}
	return rv, nil
}

// aiImageLoop is the bounded generate-review retry loop for the AI image
// engine. Fixable failures carry a correction instruction into the next
// attempt; structural failures restart from a corrected description;
// repeated dimension/label complaints switch the description to symbolic
// variable names, a known failure mode of image models with numerals.
func (a *Agent) aiImageLoop(ctx context.Context, q *schema.Question, cls router.Classification, description, questionText string) ([]byte, error) {
	maxAttempts := envutil.Int("DIAGRAM_MAX_ATTEMPTS", 3)
	style := prompts.StyleGuidance(cls.Domain, cls.DiagramType)

	desc := description
	correction := ""
	dimensionFailures := 0
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		prompt := desc
		if correction != "" {
			prompt += "\n\nCorrection from the previous attempt:\n" + correction
		}
		res, err := a.renderer.Execute(ctx, render.Request{
			Tool:        render.ToolAIImage,
			Description: prompt,
			Args:        map[string]any{"style": style},
		})
		if err != nil {
			lastErr = err
			continue
		}

		rv, err := a.reviewImage(ctx, q, desc, res.PNG)
		if err != nil {
			lastErr = err
			continue
		}
		if rv.Pass {
			return res.PNG, nil
		}
		lastErr = fmt.Errorf("review failed: %s", rv.Reasoning)
		a.log.Debug("AI image rejected", "question_id", q.ID, "attempt", attempt, "issues", strings.Join(rv.Issues, "; "))

		if hasDimensionIssue(rv.Issues) {
			dimensionFailures++
			if dimensionFailures >= 2 {
				desc = a.symbolizeDescription(ctx, desc)
				correction = ""
				continue
			}
		}
		if rv.Fixable {
			correction = strings.Join(rv.Issues, "; ")
			continue
		}
		// Structural failure: restart from the corrected description.
		if strings.TrimSpace(rv.CorrectedDescription) != "" {
			desc = rv.CorrectedDescription
		}
		correction = ""
	}
	return nil, fmt.Errorf("ai image loop exhausted %d attempts: %w", maxAttempts, lastErr)
}

func hasDimensionIssue(issues []string) bool {
	for _, issue := range issues {
		low := strings.ToLower(issue)
		if strings.Contains(low, "dimension") || strings.Contains(low, "label") ||
			strings.Contains(low, "number") || strings.Contains(low, "value") {
			return true
		}
	}
	return false
}

// symbolizeDescription rewrites a description with symbolic variable names
// in place of numerals. Image models frequently garble written-out
// numbers; symbols survive.
func (a *Agent) symbolizeDescription(ctx context.Context, description string) string {
	out, err := a.llm.GenerateText(ctx,
		"Rewrite the diagram description replacing every numeric value with a short symbolic variable name (L, R1, theta, ...). Keep everything else unchanged. Reply with only the rewritten description.",
		description)
	if err != nil || strings.TrimSpace(out) == "" {
		return description
	}
	return strings.TrimSpace(out)
}

// reviewAndRepair is the post-render review for images that have not been
// through the AI loop. On a failed review with a corrected description it
// regenerates once through the original tool family and accepts the
// result either way.
func (a *Agent) reviewAndRepair(ctx context.Context, q *schema.Question, cls router.Classification, call openai.ToolCall, description, questionText string, image []byte) []byte {
	rv, err := a.reviewImage(ctx, q, description, image)
	if err != nil {
		a.log.Warn("Diagram review unavailable, accepting image", "question_id", q.ID, "error", err.Error())
		return image
	}
	if rv.Pass {
		return image
	}
	a.log.Warn("Diagram failed review", "question_id", q.ID, "reasoning", rv.Reasoning)
	if strings.TrimSpace(rv.CorrectedDescription) == "" {
		return image
	}

	// Regenerate through the same tool family only: a circuit renderer
	// cannot draw a plot, and vice versa.
	tool := call.Name
	if tool == render.ToolAIImage {
		tool = cls.PreferredTool
	}
	res, err := a.renderer.Execute(ctx, render.Request{
		Tool:        tool,
		Description: rv.CorrectedDescription,
		Args:        call.Arguments,
	})
	if err != nil {
		a.log.Warn("Post-review regeneration failed, keeping first image", "question_id", q.ID, "error", err.Error())
		return image
	}
	return res.PNG
}

func pngDataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}
