package parser

// JSON schemas handed to the model provider's strict structured-output
// mode. A response violating these is a provider-side failure surfaced as
// a parse error, never coerced locally.

func equationSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"id", "latex", "type", "position"},
		"properties": map[string]any{
			"id":    map[string]any{"type": "string"},
			"latex": map[string]any{"type": "string"},
			"type":  map[string]any{"type": "string", "enum": []string{"inline", "display"}},
			"position": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"char_index", "context"},
				"properties": map[string]any{
					"char_index": map[string]any{"type": "integer"},
					"context": map[string]any{
						"type": "string",
						"enum": []string{"question_text", "options", "correctAnswer", "rubric"},
					},
				},
			},
		},
	}
}

func questionDef() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required": []string{
			"id", "type", "question", "points", "options", "correctAnswer",
			"allowMultipleCorrect", "multipleCorrectAnswers", "rubric", "rubricType",
			"hasCode", "code", "codeLanguage", "hasDiagram", "diagram",
			"optionalParts", "requiredPartsCount", "equations", "subquestions",
		},
		"properties": map[string]any{
			"id": map[string]any{"type": "integer"},
			"type": map[string]any{
				"type": "string",
				"enum": []string{
					"multiple-choice", "fill-blank", "short-answer", "numerical",
					"long-answer", "true-false", "code-writing", "diagram-analysis",
					"multi-part",
				},
			},
			"question":               map[string]any{"type": "string"},
			"points":                 map[string]any{"type": "number"},
			"options":                map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"correctAnswer":          map[string]any{"type": "string"},
			"allowMultipleCorrect":   map[string]any{"type": "boolean"},
			"multipleCorrectAnswers": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			"rubric":                 map[string]any{"type": "string"},
			"rubricType":             map[string]any{"type": "string", "enum": []string{"per-subquestion", "overall", ""}},
			"hasCode":                map[string]any{"type": "boolean"},
			"code":                   map[string]any{"type": "string"},
			"codeLanguage":           map[string]any{"type": "string"},
			"hasDiagram":             map[string]any{"type": "boolean"},
			"diagram": map[string]any{
				"anyOf": []any{
					map[string]any{"type": "null"},
					map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []string{"page_number", "caption"},
						"properties": map[string]any{
							"page_number": map[string]any{"type": "integer"},
							"caption":     map[string]any{"type": "string"},
						},
					},
				},
			},
			"optionalParts":      map[string]any{"type": "boolean"},
			"requiredPartsCount": map[string]any{"type": "integer"},
			"equations":          map[string]any{"type": "array", "items": equationSchema()},
			"subquestions":       map[string]any{"type": "array", "items": map[string]any{"$ref": "#/$defs/question"}},
		},
	}
}

// extractionSchema is the per-batch Step 1 response shape.
func extractionSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"questions"},
		"$defs":                map[string]any{"question": questionDef()},
		"properties": map[string]any{
			"questions": map[string]any{
				"type":  "array",
				"items": map[string]any{"$ref": "#/$defs/question"},
			},
		},
	}
}

// batchPlanSchema is the Step 0 page classification + batching plan shape.
func batchPlanSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"pages", "language", "title", "description", "batches"},
		"properties": map[string]any{
			"pages": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"page_number", "has_questions"},
					"properties": map[string]any{
						"page_number":   map[string]any{"type": "integer"},
						"has_questions": map[string]any{"type": "boolean"},
					},
				},
			},
			"language":    map[string]any{"type": "string"},
			"title":       map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"batches": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "integer"},
				},
			},
		},
	}
}

// answerBatchPlanSchema groups missing-answer items into token-bounded
// batches (Step 3a).
func answerBatchPlanSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"batches"},
		"properties": map[string]any{
			"batches": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
		},
	}
}

// answerGenerationSchema is the Step 3c per-batch response. The canonical
// top-level key is `responses`; parseAnswerPayload additionally accepts the
// drifted keys answers/results/data when reading.
func answerGenerationSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"responses"},
		"properties": map[string]any{
			"responses": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"question_path", "correct_answer", "rubric", "equations"},
					"properties": map[string]any{
						"question_path":  map[string]any{"type": "string"},
						"correct_answer": map[string]any{"type": "string"},
						"rubric":         map[string]any{"type": "string"},
						"equations":      map[string]any{"type": "array", "items": equationSchema()},
					},
				},
			},
		},
	}
}
