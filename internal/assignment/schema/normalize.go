package schema

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/brightmark/assignment-backend/internal/platform/logger"
)

var (
	numberRe      = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	placeholderRe = regexp.MustCompile(`<eq\s+([A-Za-z0-9_]+)\s*>`)
)

// ParsePoints coerces the heterogeneous point formats extraction models
// return ("(10 points)", "7", 7, 7.5) into a float. Unparseable input is 0.
func ParsePoints(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		m := numberRe.FindString(t)
		if m == "" {
			return 0
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		m := numberRe.FindString(fmt.Sprintf("%v", t))
		if m == "" {
			return 0
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0
		}
		return f
	}
}

// MaxID returns the largest id in the tree, descending through
// subquestions. Zero for an empty tree.
func MaxID(qs []*Question) int {
	max := 0
	Walk(qs, func(q *Question) {
		if q.ID > max {
			max = q.ID
		}
	})
	return max
}

// RenumberWithOffset shifts every id in the tree by offset, in place.
func RenumberWithOffset(qs []*Question, offset int) {
	if offset == 0 {
		return
	}
	Walk(qs, func(q *Question) {
		q.ID += offset
	})
}

// ConsolidateBatches merges per-batch question lists in batch order into one
// list with document-wide unique, monotonically non-decreasing ids. Each
// batch after the first is renumbered by the running maximum id seen so
// far. Input batches are cloned, never mutated.
func ConsolidateBatches(batches [][]*Question) []*Question {
	out := []*Question{}
	runningMax := 0
	for _, batch := range batches {
		clone := CloneQuestions(batch)
		RenumberWithOffset(clone, runningMax)
		if m := MaxID(clone); m > runningMax {
			runningMax = m
		}
		out = append(out, clone...)
	}
	return out
}

// RepairOptionalParts enforces the multi-part invariant in place: a
// non-multi-part question carries no subquestions or optional-parts flags,
// and an out-of-range requiredPartsCount disables the optional-parts
// choice entirely.
func RepairOptionalParts(q *Question, log *logger.Logger) {
	if q == nil {
		return
	}
	if q.Type != TypeMultiPart {
		if len(q.Subquestions) > 0 && log != nil {
			log.Warn("Dropping subquestions on non-multi-part question", "question_id", q.ID, "type", q.Type)
		}
		q.Subquestions = nil
		q.OptionalParts = false
		q.RequiredPartsCount = 0
		return
	}
	if !q.OptionalParts {
		q.RequiredPartsCount = 0
		return
	}
	if q.RequiredPartsCount < 1 || q.RequiredPartsCount > len(q.Subquestions) {
		if log != nil {
			log.Warn("Coercing out-of-range optional-parts settings",
				"question_id", q.ID,
				"required_parts_count", q.RequiredPartsCount,
				"subquestions", len(q.Subquestions),
			)
		}
		q.OptionalParts = false
		q.RequiredPartsCount = 0
	}
}

// PlaceholderIDs returns the equation ids referenced by <eq id> tokens in s,
// in order of appearance.
func PlaceholderIDs(s string) []string {
	matches := placeholderRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// ValidateEquationPlaceholders cross-checks <eq id> tokens in the question's
// text fields against its equations array. Mismatches are logged, never
// fatal: extraction models drift and the placeholder is still readable.
func ValidateEquationPlaceholders(q *Question, log *logger.Logger) {
	if q == nil {
		return
	}
	known := map[string]string{}
	for _, eq := range q.Equations {
		known[eq.ID] = eq.Position.Context
	}

	check := func(text, context string) {
		for _, id := range PlaceholderIDs(text) {
			gotCtx, ok := known[id]
			if !ok {
				if log != nil {
					log.Warn("Equation placeholder has no equation entry",
						"question_id", q.ID, "equation_id", id, "context", context)
				}
				continue
			}
			if gotCtx != context {
				if log != nil {
					log.Warn("Equation placeholder context mismatch",
						"question_id", q.ID, "equation_id", id,
						"placeholder_context", context, "equation_context", gotCtx)
				}
			}
		}
	}

	check(q.Question, ContextQuestionText)
	check(q.CorrectAnswer, ContextCorrectAnswer)
	check(q.Rubric, ContextRubric)
	for _, opt := range q.Options {
		check(opt, ContextOptions)
	}
}

// TotalPoints sums top-level question points. Multi-part parents whose own
// points are zero contribute the sum of their subquestions instead.
func TotalPoints(qs []*Question) float64 {
	total := 0.0
	for _, q := range qs {
		if q == nil {
			continue
		}
		if q.Type == TypeMultiPart && q.Points == 0 {
			total += TotalPoints(q.Subquestions)
			continue
		}
		total += q.Points
	}
	return total
}

// Normalize applies schema defaults and invariant repair across the whole
// assignment: fallback title/description derived from the file name, valid
// optional-parts settings, and log-only equation placeholder validation.
func Normalize(a *Assignment, fileName string, log *logger.Logger) *Assignment {
	if a == nil {
		a = &Assignment{}
	}
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	base = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(base))
	if strings.TrimSpace(a.Title) == "" {
		if base != "" {
			a.Title = base
		} else {
			a.Title = "Untitled Assignment"
		}
	}
	if strings.TrimSpace(a.Description) == "" {
		a.Description = fmt.Sprintf("Assignment extracted from %s", filepath.Base(fileName))
	}

	Walk(a.Questions, func(q *Question) {
		if strings.TrimSpace(q.Type) == "" {
			q.Type = TypeShortAnswer
		}
		RepairOptionalParts(q, log)
		ValidateEquationPlaceholders(q, log)
	})

	a.TotalPoints = TotalPoints(a.Questions)
	return a
}
