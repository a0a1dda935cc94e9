package schema

// Question types produced by extraction. diagram-analysis may also be set
// later by the diagram agent when a question asks the student to complete
// or trace a diagram.
const (
	TypeMultipleChoice  = "multiple-choice"
	TypeFillBlank       = "fill-blank"
	TypeShortAnswer     = "short-answer"
	TypeNumerical       = "numerical"
	TypeLongAnswer      = "long-answer"
	TypeTrueFalse       = "true-false"
	TypeCodeWriting     = "code-writing"
	TypeDiagramAnalysis = "diagram-analysis"
	TypeMultiPart       = "multi-part"
)

// Equation position contexts.
const (
	ContextQuestionText  = "question_text"
	ContextOptions       = "options"
	ContextCorrectAnswer = "correctAnswer"
	ContextRubric        = "rubric"
)

// Rubric granularity for multi-part questions.
const (
	RubricPerSubquestion = "per-subquestion"
	RubricOverall        = "overall"
)

type EquationPosition struct {
	CharIndex int    `json:"char_index"`
	Context   string `json:"context"`
}

// Equation is owned by exactly one question and referenced from its text
// fields via <eq id> placeholders. Ids are namespaced per question:
// q{qid}_eq{n}, q{qid}_opt{A}_eq{n}, q{qid}_ans_eq{n}, q{qid}_rub_eq{n}.
type Equation struct {
	ID       string           `json:"id"`
	Latex    string           `json:"latex"`
	Type     string           `json:"type"` // inline|display
	Position EquationPosition `json:"position"`
}

// Diagram carries either a localization box waiting to be cropped, or a
// final storage reference, never raw image bytes.
type Diagram struct {
	PageNumber  int       `json:"page_number,omitempty"`
	BoundingBox []float64 `json:"bounding_box,omitempty"` // [xmin,ymin,xmax,ymax]
	Caption     string    `json:"caption,omitempty"`
	StorageKey  string    `json:"s3_key,omitempty"`
	StorageURL  string    `json:"s3_url,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
}

// Question is the recursive unit of an assignment. Ids are unique within
// the document; children follow a decimal nesting convention (parent 30 ->
// 301, 302; grandchildren 3001, 3002).
type Question struct {
	ID       int     `json:"id"`
	Type     string  `json:"type"`
	Question string  `json:"question"`
	Points   float64 `json:"points"`

	Options                []string `json:"options,omitempty"`
	CorrectAnswer          string   `json:"correctAnswer,omitempty"`
	AllowMultipleCorrect   bool     `json:"allowMultipleCorrect,omitempty"`
	MultipleCorrectAnswers []int    `json:"multipleCorrectAnswers,omitempty"`

	Rubric     string `json:"rubric,omitempty"`
	RubricType string `json:"rubricType,omitempty"`

	HasCode      bool   `json:"hasCode,omitempty"`
	Code         string `json:"code,omitempty"`
	CodeLanguage string `json:"codeLanguage,omitempty"`

	HasDiagram bool     `json:"hasDiagram,omitempty"`
	Diagram    *Diagram `json:"diagram,omitempty"`

	OptionalParts      bool `json:"optionalParts,omitempty"`
	RequiredPartsCount int  `json:"requiredPartsCount,omitempty"`

	Equations    []Equation  `json:"equations,omitempty"`
	Subquestions []*Question `json:"subquestions,omitempty"`
}

// Assignment is the terminal output of the parser pipeline.
type Assignment struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Questions   []*Question `json:"questions"`
	TotalPoints float64     `json:"total_points"`
}

// Clone deep-copies a question tree so pipeline stages never alias the
// caller's slices.
func (q *Question) Clone() *Question {
	if q == nil {
		return nil
	}
	out := *q
	if q.Options != nil {
		out.Options = append([]string(nil), q.Options...)
	}
	if q.MultipleCorrectAnswers != nil {
		out.MultipleCorrectAnswers = append([]int(nil), q.MultipleCorrectAnswers...)
	}
	if q.Equations != nil {
		out.Equations = append([]Equation(nil), q.Equations...)
	}
	if q.Diagram != nil {
		d := *q.Diagram
		if q.Diagram.BoundingBox != nil {
			d.BoundingBox = append([]float64(nil), q.Diagram.BoundingBox...)
		}
		out.Diagram = &d
	}
	if q.Subquestions != nil {
		out.Subquestions = make([]*Question, 0, len(q.Subquestions))
		for _, sub := range q.Subquestions {
			out.Subquestions = append(out.Subquestions, sub.Clone())
		}
	}
	return &out
}

// CloneQuestions deep-copies a top-level question list.
func CloneQuestions(qs []*Question) []*Question {
	if qs == nil {
		return nil
	}
	out := make([]*Question, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Clone())
	}
	return out
}

// Walk visits q and every nested subquestion depth-first in document order.
func Walk(qs []*Question, visit func(q *Question)) {
	for _, q := range qs {
		if q == nil {
			continue
		}
		visit(q)
		Walk(q.Subquestions, visit)
	}
}
