package schema

import (
	"testing"
)

func TestParsePoints(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{"(10 points)", 10.0},
		{7, 7.0},
		{7.5, 7.5},
		{"no number", 0.0},
		{"worth 2.5 pts", 2.5},
		{nil, 0.0},
	}
	for _, c := range cases {
		if got := ParsePoints(c.in); got != c.want {
			t.Fatalf("ParsePoints(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestConsolidateBatchesRenumbering(t *testing.T) {
	b1 := []*Question{
		{ID: 1, Type: TypeShortAnswer, Question: "first"},
		{ID: 2, Type: TypeMultiPart, Question: "second", Subquestions: []*Question{
			{ID: 21, Type: TypeShortAnswer, Question: "second-a"},
			{ID: 22, Type: TypeShortAnswer, Question: "second-b"},
		}},
	}
	b2 := []*Question{
		{ID: 1, Type: TypeNumerical, Question: "third"},
		{ID: 2, Type: TypeNumerical, Question: "fourth"},
	}

	out := ConsolidateBatches([][]*Question{b1, b2})
	if len(out) != 4 {
		t.Fatalf("expected 4 top-level questions, got %d", len(out))
	}

	// All ids pairwise distinct across the whole tree.
	seen := map[int]bool{}
	Walk(out, func(q *Question) {
		if seen[q.ID] {
			t.Fatalf("duplicate id %d after consolidation", q.ID)
		}
		seen[q.ID] = true
	})

	// Second batch renumbered past the first batch's max (22).
	if out[2].ID != 23 || out[3].ID != 24 {
		t.Fatalf("expected second batch ids 23,24; got %d,%d", out[2].ID, out[3].ID)
	}

	// Every id contributed by batch 2 is >= max id of batch 1.
	maxB1 := MaxID(out[:2])
	Walk(out[2:], func(q *Question) {
		if q.ID < maxB1 {
			t.Fatalf("batch-2 id %d below batch-1 max %d", q.ID, maxB1)
		}
	})
}

func TestConsolidateSingleBatchIsStableClone(t *testing.T) {
	in := []*Question{
		{ID: 1, Type: TypeShortAnswer, Question: "only", Options: []string{"a", "b"}},
	}
	out := ConsolidateBatches([][]*Question{in})
	if len(out) != 1 || out[0].ID != 1 || out[0].Question != "only" {
		t.Fatalf("single batch consolidation changed content: %+v", out)
	}
	// Mutating the output must not touch the caller's input.
	out[0].ID = 99
	out[0].Options[0] = "mutated"
	if in[0].ID != 1 {
		t.Fatalf("consolidation aliased the input question")
	}
	if in[0].Options[0] != "a" {
		t.Fatalf("consolidation aliased the input options slice")
	}
}

func TestRepairOptionalPartsCoercion(t *testing.T) {
	q := &Question{
		ID:                 5,
		Type:               TypeMultiPart,
		OptionalParts:      true,
		RequiredPartsCount: 7,
		Subquestions: []*Question{
			{ID: 51, Type: TypeShortAnswer},
			{ID: 52, Type: TypeShortAnswer},
		},
	}
	RepairOptionalParts(q, nil)
	if q.OptionalParts || q.RequiredPartsCount != 0 {
		t.Fatalf("out-of-range requiredPartsCount not coerced: optional=%v count=%d",
			q.OptionalParts, q.RequiredPartsCount)
	}

	ok := &Question{
		ID:                 6,
		Type:               TypeMultiPart,
		OptionalParts:      true,
		RequiredPartsCount: 1,
		Subquestions: []*Question{
			{ID: 61, Type: TypeShortAnswer},
			{ID: 62, Type: TypeShortAnswer},
		},
	}
	RepairOptionalParts(ok, nil)
	if !ok.OptionalParts || ok.RequiredPartsCount != 1 {
		t.Fatalf("in-range optional parts settings were clobbered: %+v", ok)
	}

	plain := &Question{
		ID:            7,
		Type:          TypeShortAnswer,
		OptionalParts: true,
		Subquestions:  []*Question{{ID: 71}},
	}
	RepairOptionalParts(plain, nil)
	if plain.OptionalParts || plain.RequiredPartsCount != 0 || len(plain.Subquestions) != 0 {
		t.Fatalf("non-multi-part question kept multi-part state: %+v", plain)
	}
}

func TestPlaceholderIDs(t *testing.T) {
	ids := PlaceholderIDs("Solve <eq q1_eq1> given <eq q1_eq2> and plain text.")
	if len(ids) != 2 || ids[0] != "q1_eq1" || ids[1] != "q1_eq2" {
		t.Fatalf("unexpected placeholder ids: %v", ids)
	}
	if got := PlaceholderIDs("no placeholders here"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestNormalizeFallbacksAndTotals(t *testing.T) {
	a := &Assignment{
		Questions: []*Question{
			{ID: 1, Type: TypeNumerical, Points: 5},
			{ID: 2, Type: TypeMultiPart, Subquestions: []*Question{
				{ID: 21, Type: TypeShortAnswer, Points: 3},
				{ID: 22, Type: TypeShortAnswer, Points: 7},
			}},
		},
	}
	out := Normalize(a, "physics_homework_3.pdf", nil)
	if out.Title != "physics homework 3" {
		t.Fatalf("fallback title = %q", out.Title)
	}
	if out.Description == "" {
		t.Fatalf("expected fallback description")
	}
	if out.TotalPoints != 15 {
		t.Fatalf("total points = %v, want 15", out.TotalPoints)
	}
}

func TestQuestionFromMapCoercion(t *testing.T) {
	m := map[string]any{
		"id":       float64(3),
		"type":     "multiple-choice",
		"question": "Pick one <eq q3_eq1>",
		"points":   "(4 points)",
		"options":  []any{"A", "B"},
		"equations": []any{
			map[string]any{
				"id":    "q3_eq1",
				"latex": "x^2",
				"type":  "inline",
				"position": map[string]any{
					"char_index": float64(9),
					"context":    "question_text",
				},
			},
		},
	}
	q, err := QuestionFromMap(m)
	if err != nil {
		t.Fatalf("QuestionFromMap: %v", err)
	}
	if q.ID != 3 || q.Points != 4.0 || len(q.Options) != 2 || len(q.Equations) != 1 {
		t.Fatalf("decoded question wrong: %+v", q)
	}
	if q.Equations[0].Position.Context != ContextQuestionText {
		t.Fatalf("equation context = %q", q.Equations[0].Position.Context)
	}
}

func TestQuestionsFromAnyRejectsMalformed(t *testing.T) {
	if _, err := QuestionsFromAny("not an array"); err == nil {
		t.Fatalf("expected error for non-array questions")
	}
	if _, err := QuestionsFromAny([]any{"not an object"}); err == nil {
		t.Fatalf("expected error for non-object question entry")
	}
}
