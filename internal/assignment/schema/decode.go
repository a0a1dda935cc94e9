package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Decoding helpers for model-produced JSON. Structured outputs are schema
// validated by the provider, but numbers arrive as float64, points may be
// strings, and ids occasionally come back stringified. Coercion here is
// limited to those known shapes; anything else is an error.

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(strings.ToLower(t)))
		return b
	case float64:
		return t != 0
	default:
		return false
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case json.Number:
		i, _ := t.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(t))
		return i
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	default:
		return 0
	}
}

func asStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		out = append(out, asString(item))
	}
	return out
}

func asIntSlice(v any) []int {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(arr))
	for _, item := range arr {
		out = append(out, asInt(item))
	}
	return out
}

// EquationFromMap decodes one equation entry.
func EquationFromMap(m map[string]any) Equation {
	eq := Equation{
		ID:    asString(m["id"]),
		Latex: asString(m["latex"]),
		Type:  asString(m["type"]),
	}
	if eq.Type != "display" {
		eq.Type = "inline"
	}
	if pos, ok := m["position"].(map[string]any); ok {
		eq.Position = EquationPosition{
			CharIndex: asInt(pos["char_index"]),
			Context:   asString(pos["context"]),
		}
	}
	if eq.Position.Context == "" {
		eq.Position.Context = contextFromEquationID(eq.ID)
	}
	return eq
}

// contextFromEquationID maps the answer-generation id namespaces
// (q{id}_ans_eq{n}, q{id}_rub_eq{n}) to their placeholder contexts.
// Anything else belongs to the question text.
func contextFromEquationID(id string) string {
	switch {
	case strings.Contains(id, "_ans_eq"):
		return ContextCorrectAnswer
	case strings.Contains(id, "_rub_eq"):
		return ContextRubric
	default:
		return ContextQuestionText
	}
}

// EquationsFromAny decodes an equations array, skipping non-object entries.
func EquationsFromAny(v any) []Equation {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Equation, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, EquationFromMap(m))
	}
	return out
}

// DiagramFromMap decodes a diagram reference.
func DiagramFromMap(m map[string]any) *Diagram {
	if m == nil {
		return nil
	}
	d := &Diagram{
		PageNumber: asInt(m["page_number"]),
		Caption:    asString(m["caption"]),
		StorageKey: asString(m["s3_key"]),
		StorageURL: asString(m["s3_url"]),
		Confidence: asFloat(m["confidence"]),
	}
	if bb, ok := m["bounding_box"].([]any); ok && len(bb) == 4 {
		box := make([]float64, 0, 4)
		for _, c := range bb {
			box = append(box, asFloat(c))
		}
		d.BoundingBox = box
	}
	if d.PageNumber == 0 && d.Caption == "" && d.StorageKey == "" && d.StorageURL == "" && d.BoundingBox == nil {
		return nil
	}
	return d
}

// QuestionFromMap decodes one question object, recursing into
// subquestions. Returns an error only for a shape that cannot be read as a
// question at all.
func QuestionFromMap(m map[string]any) (*Question, error) {
	if m == nil {
		return nil, fmt.Errorf("question is not an object")
	}
	q := &Question{
		ID:                     asInt(m["id"]),
		Type:                   strings.TrimSpace(asString(m["type"])),
		Question:               asString(m["question"]),
		Points:                 ParsePoints(m["points"]),
		Options:                asStringSlice(m["options"]),
		CorrectAnswer:          asString(m["correctAnswer"]),
		AllowMultipleCorrect:   asBool(m["allowMultipleCorrect"]),
		MultipleCorrectAnswers: asIntSlice(m["multipleCorrectAnswers"]),
		Rubric:                 asString(m["rubric"]),
		RubricType:             asString(m["rubricType"]),
		HasCode:                asBool(m["hasCode"]),
		Code:                   asString(m["code"]),
		CodeLanguage:           asString(m["codeLanguage"]),
		HasDiagram:             asBool(m["hasDiagram"]),
		OptionalParts:          asBool(m["optionalParts"]),
		RequiredPartsCount:     asInt(m["requiredPartsCount"]),
		Equations:              EquationsFromAny(m["equations"]),
	}
	if dm, ok := m["diagram"].(map[string]any); ok {
		q.Diagram = DiagramFromMap(dm)
	}
	if subs, ok := m["subquestions"].([]any); ok {
		for i, sub := range subs {
			sm, ok := sub.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("subquestion %d of question %d is not an object", i, q.ID)
			}
			sq, err := QuestionFromMap(sm)
			if err != nil {
				return nil, err
			}
			q.Subquestions = append(q.Subquestions, sq)
		}
	}
	return q, nil
}

// QuestionsFromAny decodes a questions array. Any non-object entry is a
// hard error: a malformed extraction response must propagate, not shrink.
func QuestionsFromAny(v any) ([]*Question, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("questions is not an array")
	}
	out := make([]*Question, 0, len(arr))
	for i, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("question %d is not an object", i)
		}
		q, err := QuestionFromMap(m)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}
