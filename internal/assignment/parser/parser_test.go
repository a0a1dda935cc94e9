package parser

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/brightmark/assignment-backend/internal/assignment/extract"
	"github.com/brightmark/assignment-backend/internal/assignment/schema"
	"github.com/brightmark/assignment-backend/internal/platform/gcp"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
	"github.com/brightmark/assignment-backend/internal/platform/openai"
)

func testLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// fakeLLM routes structured-output calls by schema name so one fake can
// serve the plan, extraction, and answer stages of a single parse.
type fakeLLM struct {
	jsonFn  func(schemaName string, user string) (map[string]any, error)
	textFn  func(system, user string) (string, error)
	toolsFn func(system, user string, tools []openai.ToolDef) (openai.ToolResponse, error)
	imageFn func(prompt string) (openai.ImageGeneration, error)
}

func (f *fakeLLM) GenerateJSON(_ context.Context, _ string, user string, schemaName string, _ map[string]any) (map[string]any, error) {
	return f.jsonFn(schemaName, user)
}

func (f *fakeLLM) GenerateJSONWithImages(_ context.Context, _ string, user string, _ []openai.ImageInput, schemaName string, _ map[string]any) (map[string]any, error) {
	return f.jsonFn(schemaName, user)
}

func (f *fakeLLM) GenerateText(_ context.Context, system, user string) (string, error) {
	if f.textFn == nil {
		return "", errors.New("not configured")
	}
	return f.textFn(system, user)
}

func (f *fakeLLM) GenerateTextWithImages(_ context.Context, system, user string, _ []openai.ImageInput) (string, error) {
	if f.textFn == nil {
		return "", errors.New("not configured")
	}
	return f.textFn(system, user)
}

func (f *fakeLLM) GenerateWithTools(_ context.Context, system, user string, tools []openai.ToolDef) (openai.ToolResponse, error) {
	if f.toolsFn == nil {
		return openai.ToolResponse{}, errors.New("not configured")
	}
	return f.toolsFn(system, user, tools)
}

func (f *fakeLLM) GenerateImage(_ context.Context, prompt string) (openai.ImageGeneration, error) {
	if f.imageFn == nil {
		return openai.ImageGeneration{}, errors.New("not configured")
	}
	return f.imageFn(prompt)
}

func box(conf, y0 float64) gcp.DetectedBox {
	return gcp.DetectedBox{Confidence: conf, X0: 0.1, Y0: y0, X1: 0.9, Y1: y0 + 0.2}
}

func TestAssignBoxesSingleQuestionPicksHighestConfidence(t *testing.T) {
	boxes := []gcp.DetectedBox{box(0.5, 0.1), box(0.9, 0.6), box(0.7, 0.3)}
	got := AssignBoxes(1, boxes)
	if len(got) != 1 {
		t.Fatalf("expected 1 box, got %d", len(got))
	}
	if got[0].Confidence != 0.9 {
		t.Fatalf("expected the 0.9 box, got confidence %v", got[0].Confidence)
	}
}

func TestAssignBoxesSurplusBoxesTopNByConfidenceThenReadingOrder(t *testing.T) {
	boxes := []gcp.DetectedBox{box(0.9, 0.7), box(0.5, 0.1), box(0.7, 0.2)}
	got := AssignBoxes(2, boxes)
	if len(got) != 2 {
		t.Fatalf("expected 2 boxes, got %d", len(got))
	}
	// Top-2 by confidence are 0.9 (y=0.7) and 0.7 (y=0.2); assignment
	// order is top of page first.
	if got[0].Y0 != 0.2 || got[1].Y0 != 0.7 {
		t.Fatalf("boxes not in reading order: y0=%v,%v", got[0].Y0, got[1].Y0)
	}
}

func TestAssignBoxesShortfallAssignsAllInReadingOrder(t *testing.T) {
	boxes := []gcp.DetectedBox{box(0.6, 0.5)}
	got := AssignBoxes(3, boxes)
	if len(got) != 1 {
		t.Fatalf("expected 1 box for 3 questions, got %d", len(got))
	}
}

func TestAssignBoxesEmpty(t *testing.T) {
	if got := AssignBoxes(2, nil); len(got) != 0 {
		t.Fatalf("expected no assignments, got %d", len(got))
	}
}

func TestChunkByBudgetSplitsAndNeverDropsItems(t *testing.T) {
	mk := func(id int, text string) missingItem {
		return missingItem{Path: "q", Q: &schema.Question{ID: id, Question: text}}
	}
	long := make([]byte, 4000) // ~1000 tokens
	for i := range long {
		long[i] = 'x'
	}
	items := []missingItem{mk(1, string(long)), mk(2, string(long)), mk(3, "short")}
	chunks := chunkByBudget(items, 1500)
	if len(chunks) < 2 {
		t.Fatalf("expected the budget to force multiple chunks, got %d", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total != len(items) {
		t.Fatalf("chunking dropped items: %d != %d", total, len(items))
	}
	// A single oversized item still gets a chunk of its own.
	solo := chunkByBudget([]missingItem{mk(4, string(long) + string(long))}, 100)
	if len(solo) != 1 || len(solo[0]) != 1 {
		t.Fatalf("oversized item not chunked alone: %v", solo)
	}
}

func TestParseAnswerPayloadAcceptsKeyVariants(t *testing.T) {
	item := map[string]any{
		"question_path":  "3",
		"correct_answer": "x = 4",
		"rubric":         "2 points for isolating x",
		"equations":      []any{},
	}
	for _, key := range []string{"responses", "answers", "results", "data"} {
		got := parseAnswerPayload(map[string]any{key: []any{item}})
		if len(got) != 1 {
			t.Fatalf("key %q: expected 1 payload, got %d", key, len(got))
		}
		if got["3"].CorrectAnswer != "x = 4" {
			t.Fatalf("key %q: wrong answer %q", key, got["3"].CorrectAnswer)
		}
	}
	if got := parseAnswerPayload(map[string]any{"unexpected": []any{item}}); len(got) != 0 {
		t.Fatalf("unknown key should parse to nothing, got %v", got)
	}
}

func TestCollectMissingRecursesAndSkipsAnswered(t *testing.T) {
	qs := []*schema.Question{
		{ID: 1, Type: schema.TypeShortAnswer, CorrectAnswer: "42", Rubric: "full credit"},
		{ID: 2, Type: schema.TypeShortAnswer},
		{ID: 3, Type: schema.TypeMultiPart, RubricType: schema.RubricPerSubquestion, Subquestions: []*schema.Question{
			{ID: 31, Type: schema.TypeNumerical},
			{ID: 32, Type: schema.TypeNumerical, CorrectAnswer: "9.8", Rubric: "done"},
		}},
	}
	got := collectMissing(qs)
	if len(got) != 2 {
		t.Fatalf("expected 2 missing items, got %d", len(got))
	}
	if got[0].Path != "2" || got[1].Path != "31" {
		t.Fatalf("unexpected paths %q, %q", got[0].Path, got[1].Path)
	}
}

func TestCollectMissingOverallRubricParent(t *testing.T) {
	qs := []*schema.Question{
		{ID: 5, Type: schema.TypeMultiPart, RubricType: schema.RubricOverall, Subquestions: []*schema.Question{
			{ID: 51, Type: schema.TypeShortAnswer, CorrectAnswer: "a", Rubric: "r"},
		}},
	}
	got := collectMissing(qs)
	if len(got) != 1 || got[0].Path != "5" {
		t.Fatalf("expected the parent to be collected for its overall rubric, got %v", got)
	}
}

func TestPlanBatchesFallsBackToSingleBatch(t *testing.T) {
	llm := &fakeLLM{jsonFn: func(string, string) (map[string]any, error) {
		return nil, errors.New("model unavailable")
	}}
	p := NewParser(testLogger(), llm, nil, nil)
	pages := []extract.PageImage{{PageNumber: 1}, {PageNumber: 2}, {PageNumber: 3}}
	plan := p.planBatches(context.Background(), pages)
	if len(plan.Batches) != 1 {
		t.Fatalf("expected a single fallback batch, got %d", len(plan.Batches))
	}
	if len(plan.Batches[0].Pages) != 3 {
		t.Fatalf("fallback batch should carry every page, got %d", len(plan.Batches[0].Pages))
	}
}

func TestPlanBatchesFiltersToFlaggedPages(t *testing.T) {
	llm := &fakeLLM{jsonFn: func(schemaName, _ string) (map[string]any, error) {
		return map[string]any{
			"pages": []any{
				map[string]any{"page_number": float64(1), "has_questions": false},
				map[string]any{"page_number": float64(2), "has_questions": true},
				map[string]any{"page_number": float64(3), "has_questions": true},
			},
			"language":    "en",
			"title":       "Physics HW",
			"description": "Kinematics problems",
			"batches":     []any{[]any{float64(1), float64(2)}, []any{float64(3)}},
		}, nil
	}}
	p := NewParser(testLogger(), llm, nil, nil)
	pages := []extract.PageImage{{PageNumber: 1}, {PageNumber: 2}, {PageNumber: 3}}
	plan := p.planBatches(context.Background(), pages)
	if plan.Title != "Physics HW" || plan.Language != "en" {
		t.Fatalf("plan metadata not carried: %+v", plan)
	}
	if len(plan.Batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(plan.Batches))
	}
	// Page 1 was flagged has_questions=false, so the first batch keeps
	// only page 2.
	if len(plan.Batches[0].Pages) != 1 || plan.Batches[0].Pages[0].PageNumber != 2 {
		t.Fatalf("cover page not filtered from batch: %+v", plan.Batches[0])
	}
}

func TestParseTextEndToEnd(t *testing.T) {
	extraction := map[string]any{
		"questions": []any{
			map[string]any{
				"id": float64(1), "type": "numerical", "points": float64(5),
				"question": "Solve <eq q1_eq1> for x.",
				"equations": []any{map[string]any{
					"id": "q1_eq1", "latex": "2x+5=13", "type": "inline",
					"position": map[string]any{"char_index": float64(6), "context": "question_text"},
				}},
			},
			map[string]any{
				"id": float64(2), "type": "multi-part", "points": float64(0),
				"question":      "Answer any 1 of the following.",
				"optionalParts": true, "requiredPartsCount": float64(1),
				"subquestions": []any{
					map[string]any{"id": float64(21), "type": "short-answer", "points": float64(3), "question": "Define velocity."},
					map[string]any{"id": float64(22), "type": "short-answer", "points": float64(3), "question": "Define acceleration."},
				},
			},
		},
	}
	answers := map[string]any{
		"answers": []any{
			map[string]any{"question_path": "1", "correct_answer": "x = 4", "rubric": "3 pts setup, 2 pts solution"},
			map[string]any{"question_path": "21", "correct_answer": "Rate of change of position.", "rubric": "full credit for rate of change"},
			map[string]any{"question_path": "22", "correct_answer": "Rate of change of velocity.", "rubric": "full credit for rate of change"},
		},
	}
	llm := &fakeLLM{jsonFn: func(schemaName, _ string) (map[string]any, error) {
		switch schemaName {
		case "assignment_extraction":
			return extraction, nil
		case "answer_batch_plan":
			return nil, errors.New("planner unavailable") // forces chunking
		case "answer_generation":
			return answers, nil
		default:
			return nil, errors.New("unexpected schema " + schemaName)
		}
	}}
	p := NewParser(testLogger(), llm, nil, nil)

	a, err := p.ParseText(context.Background(), "Q1 (5 points): Solve 2x+5=13 for x.", "physics_homework_3.pdf")
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	if a.Title != "physics homework 3" {
		t.Fatalf("title fallback wrong: %q", a.Title)
	}
	if len(a.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(a.Questions))
	}
	if a.Questions[0].CorrectAnswer != "x = 4" {
		t.Fatalf("answer not merged: %q", a.Questions[0].CorrectAnswer)
	}
	sub := a.Questions[1].Subquestions
	if len(sub) != 2 || sub[0].CorrectAnswer == "" || sub[1].Rubric == "" {
		t.Fatalf("subquestion answers not merged: %+v", sub)
	}
	if !a.Questions[1].OptionalParts || a.Questions[1].RequiredPartsCount != 1 {
		t.Fatalf("optional parts lost in normalization: %+v", a.Questions[1])
	}
	if a.TotalPoints != 11 {
		t.Fatalf("expected total points 11, got %v", a.TotalPoints)
	}
}

func TestMergeAnswerDoesNotOverwriteExtractedValues(t *testing.T) {
	q := &schema.Question{ID: 7, CorrectAnswer: "from the answer key"}
	mergeAnswer(q, answerPayload{CorrectAnswer: "generated", Rubric: "generated rubric"})
	if q.CorrectAnswer != "from the answer key" {
		t.Fatalf("extracted answer overwritten: %q", q.CorrectAnswer)
	}
	if q.Rubric != "generated rubric" {
		t.Fatalf("missing rubric not filled: %q", q.Rubric)
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	s := "θ = 30° and φ = 45°, puis résolvez l'équation"
	for n := 1; n < len(s); n++ {
		out := truncate(s, n)
		if !utf8.ValidString(out) {
			t.Fatalf("truncate(%q, %d) produced invalid UTF-8: %q", s, n, out)
		}
	}
	if got := truncate("short", 100); got != "short" {
		t.Fatalf("short input modified: %q", got)
	}
}
