package schema

import (
	"testing"
)

func TestEquationFromMapInfersContextFromID(t *testing.T) {
	cases := []struct {
		id   string
		want string
	}{
		{"q5_ans_eq1", ContextCorrectAnswer},
		{"q5_rub_eq2", ContextRubric},
		{"eq1", ContextQuestionText},
		{"q12_eq3", ContextQuestionText},
	}
	for _, c := range cases {
		eq := EquationFromMap(map[string]any{"id": c.id, "latex": "x^2"})
		if eq.Position.Context != c.want {
			t.Fatalf("context for %q = %q, want %q", c.id, eq.Position.Context, c.want)
		}
	}
}

func TestEquationFromMapKeepsExplicitPosition(t *testing.T) {
	eq := EquationFromMap(map[string]any{
		"id":    "q5_ans_eq1",
		"latex": "x^2",
		"position": map[string]any{
			"char_index": float64(4),
			"context":    ContextOptions,
		},
	})
	if eq.Position.Context != ContextOptions {
		t.Fatalf("explicit context overridden: %q", eq.Position.Context)
	}
	if eq.Position.CharIndex != 4 {
		t.Fatalf("char index = %d", eq.Position.CharIndex)
	}
}
