package agent

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/brightmark/assignment-backend/internal/assignment/schema"
)

const rewriteSystemPrompt = `Rephrase an assignment question to reference "the diagram below" instead of any page, figure number, or source reference. Hard constraints: every numeric value, unit, and <eq ...> placeholder from the original must appear verbatim in the rewrite; the diagram is a visual aid, never a substitute for given data. Change as little as possible.`

func rewriteSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{"type": "string"},
		},
		"required":             []string{"question"},
		"additionalProperties": false,
	}
}

var rewriteNumberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// rewriteQuestionText rewrites the question to point at the attached
// diagram. A rewrite that drops any number or equation placeholder is
// discarded and the original text kept.
func (a *Agent) rewriteQuestionText(ctx context.Context, q *schema.Question) {
	raw, err := a.llm.GenerateJSON(ctx, rewriteSystemPrompt, q.Question, "question_rewrite", rewriteSchema())
	if err != nil {
		a.log.Warn("Question rewrite unavailable", "question_id", q.ID, "error", err.Error())
		return
	}
	rewritten, _ := raw["question"].(string)
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return
	}
	if !preservesGivens(q.Question, rewritten) {
		a.log.Warn("Question rewrite dropped given data, keeping original", "question_id", q.ID)
		return
	}
	q.Question = rewritten
}

// preservesGivens checks that every number and placeholder of the original
// survives into the rewrite.
func preservesGivens(original, rewritten string) bool {
	for _, num := range rewriteNumberRe.FindAllString(original, -1) {
		if !strings.Contains(rewritten, num) {
			return false
		}
	}
	origIDs := schema.PlaceholderIDs(original)
	newIDs := schema.PlaceholderIDs(rewritten)
	sort.Strings(origIDs)
	sort.Strings(newIDs)
	if len(origIDs) != len(newIDs) {
		return false
	}
	for i := range origIDs {
		if origIDs[i] != newIDs[i] {
			return false
		}
	}
	return true
}

// drawTracePhrases is the fixed heuristic list for questions that require
// the student to produce or complete the diagram themselves.
var drawTracePhrases = []string{
	"draw the",
	"sketch the",
	"trace the",
	"complete the diagram",
	"complete the waveform",
	"complete the timing",
	"fill in the waveform",
	"fill in the timing diagram",
	"plot the output",
}

var promotableDiagramTypes = map[string]bool{
	"timing_waveform": true,
	"logic_circuit":   true,
	"circuit":         true,
}

var promotableQuestionTypes = map[string]bool{
	schema.TypeShortAnswer: true,
	schema.TypeNumerical:   true,
	schema.TypeFillBlank:   true,
}

// promoteDiagramAnalysisType upgrades plain question types to
// diagram-analysis when the text asks the student to draw, trace, or
// complete a waveform/sequential-circuit diagram.
func promoteDiagramAnalysisType(q *schema.Question, diagramType string) {
	if !promotableDiagramTypes[diagramType] || !promotableQuestionTypes[q.Type] {
		return
	}
	low := strings.ToLower(q.Question)
	for _, phrase := range drawTracePhrases {
		if strings.Contains(low, phrase) {
			q.Type = schema.TypeDiagramAnalysis
			return
		}
	}
}
