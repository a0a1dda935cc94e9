package parser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brightmark/assignment-backend/internal/assignment/schema"
	pkgerrors "github.com/brightmark/assignment-backend/internal/pkg/errors"
	"github.com/brightmark/assignment-backend/internal/pkg/parallel"
)

const extractionSystemPrompt = `You extract assignment questions from source material into structured JSON. Rules:
- Extract ONLY questions actually present in the source. Never invent, merge, or complete questions.
- Replace every mathematical expression with an <eq id> placeholder in the text and record its LaTeX in the equations array. Ids are namespaced per question: q{id}_eq{n} for question text, q{id}_opt{LETTER}_eq{n} for options, q{id}_ans_eq{n} for answers, q{id}_rub_eq{n} for rubrics.
- Capture question type, points (numeric), options for multiple-choice, and the correct answer or rubric ONLY if the source states one.
- If a question references a figure, chart, circuit, or diagram, set hasDiagram true and record the page number it appears on plus a short caption. Do not describe diagram contents in the question text.
- Encode a question with lettered or numbered parts as type multi-part with ordered subquestions, child ids following the decimal convention (parent 3 -> 31, 32). Set optionalParts true with requiredPartsCount N ONLY when the source explicitly says something like "answer any N of M"; otherwise every part is required.
- Plain prose stays verbatim; keep units and numeric values exactly as written.`

// extractBatches is Step 1: one structured extraction call per batch,
// concurrently, bounded by the batch count. A malformed batch response is
// a hard error for the whole parse. Results consolidate in batch order
// with offset renumbering.
func (p *Parser) extractBatches(ctx context.Context, batches []PageBatch) ([]*schema.Question, error) {
	perBatch, err := parallel.MapStrict(ctx, batches, len(batches),
		func(ctx context.Context, i int, batch PageBatch) ([]*schema.Question, error) {
			return p.extractOneBatch(ctx, batch)
		})
	if err != nil {
		return nil, err
	}
	return schema.ConsolidateBatches(perBatch), nil
}

func (p *Parser) extractOneBatch(ctx context.Context, batch PageBatch) ([]*schema.Question, error) {
	pageNums := make([]int, 0, len(batch.Pages))
	for _, pg := range batch.Pages {
		pageNums = append(pageNums, pg.PageNumber)
	}
	user := fmt.Sprintf("Extract every question from the attached pages. Their original page numbers, in order, are %v. Use those numbers for diagram page references.", pageNums)

	raw, err := p.llm.GenerateJSONWithImages(ctx, extractionSystemPrompt, user,
		pageImageInputs(batch.Pages), "assignment_extraction", extractionSchema())
	if err != nil {
		return nil, &pkgerrors.BatchExtractionError{BatchIndex: batch.Index, Cause: err}
	}

	questions, err := schema.QuestionsFromAny(raw["questions"])
	if err != nil {
		excerpt, _ := json.Marshal(raw)
		return nil, &pkgerrors.BatchExtractionError{
			BatchIndex: batch.Index,
			RawExcerpt: string(excerpt),
			Cause:      err,
		}
	}
	p.log.Debug("Batch extracted", "batch_index", batch.Index, "pages", len(batch.Pages), "questions", len(questions))
	return questions, nil
}

// extractFromText is the single-call text-document variant of Step 1.
func (p *Parser) extractFromText(ctx context.Context, text string) ([]*schema.Question, error) {
	user := "Extract every question from the following document text.\n\n---\n" + text
	raw, err := p.llm.GenerateJSON(ctx, extractionSystemPrompt, user,
		"assignment_extraction", extractionSchema())
	if err != nil {
		return nil, &pkgerrors.BatchExtractionError{BatchIndex: 0, Cause: err}
	}
	questions, err := schema.QuestionsFromAny(raw["questions"])
	if err != nil {
		excerpt, _ := json.Marshal(raw)
		return nil, &pkgerrors.BatchExtractionError{BatchIndex: 0, RawExcerpt: string(excerpt), Cause: err}
	}
	return schema.ConsolidateBatches([][]*schema.Question{questions}), nil
}
