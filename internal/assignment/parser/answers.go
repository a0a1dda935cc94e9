package parser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/brightmark/assignment-backend/internal/assignment/equations"
	"github.com/brightmark/assignment-backend/internal/assignment/schema"
	"github.com/brightmark/assignment-backend/internal/pkg/parallel"
	"github.com/brightmark/assignment-backend/internal/platform/envutil"
	"github.com/brightmark/assignment-backend/internal/platform/gcp"
	"github.com/brightmark/assignment-backend/internal/platform/openai"
)

// answerTopLevelKeys is the versioned parsing contract for Step 3
// responses: generation models drift between these top-level key names, so
// they are accepted in priority order.
var answerTopLevelKeys = []string{"responses", "answers", "results", "data"}

type missingItem struct {
	Path string
	Q    *schema.Question
}

const answerSystemPrompt = `You write model answers and grading rubrics for assignment questions. For every item: produce the correct answer with a full step-by-step derivation for quantitative questions, and a rubric that allocates partial credit per step. Reference any attached diagram image when one is provided. Keep every <eq id> placeholder from the question text intact when quoting it; new math in your answer goes into the equations array with ids namespaced q{id}_ans_eq{n} or q{id}_rub_eq{n}. Echo each item's question_path unchanged.`

// backfillAnswers is Step 3: collect questions missing answers or rubrics,
// batch them under a token budget, generate concurrently, and merge the
// results back into the tree. Per-batch failures degrade to unanswered
// questions; nothing here is fatal.
func (p *Parser) backfillAnswers(ctx context.Context, questions []*schema.Question) {
	missing := collectMissing(questions)
	if len(missing) == 0 {
		return
	}

	batches := p.planAnswerBatches(ctx, missing)
	limit := envutil.Int("ANSWER_GEN_CONCURRENCY", 6)

	results, err := parallel.Map(ctx, batches, limit,
		func(ctx context.Context, i int, batch []missingItem) (map[string]answerPayload, error) {
			return p.generateAnswerBatch(ctx, i, batch)
		})
	if err != nil {
		p.log.Warn("Answer generation canceled", "error", err.Error())
		return
	}

	// Merge single-threaded after the stage barrier.
	byPath := map[string]*schema.Question{}
	for _, item := range missing {
		byPath[item.Path] = item.Q
	}
	applied := 0
	for i, res := range results {
		if res.Err != nil {
			p.log.Warn("Answer batch failed", "batch_index", i, "error", res.Err.Error())
			continue
		}
		for path, payload := range res.Value {
			q, ok := byPath[path]
			if !ok {
				p.log.Warn("Answer for unknown question path", "question_path", path)
				continue
			}
			mergeAnswer(q, payload)
			applied++
		}
	}
	p.log.Info("Answers backfilled", "missing", len(missing), "batches", len(batches), "applied", applied)
}

func collectMissing(questions []*schema.Question) []missingItem {
	var out []missingItem
	var walk func(qs []*schema.Question)
	walk = func(qs []*schema.Question) {
		for _, q := range qs {
			if q == nil {
				continue
			}
			if q.Type == schema.TypeMultiPart {
				// Parents carry answers only through an overall rubric.
				if q.RubricType == schema.RubricOverall && strings.TrimSpace(q.Rubric) == "" {
					out = append(out, missingItem{Path: strconv.Itoa(q.ID), Q: q})
				}
				walk(q.Subquestions)
				continue
			}
			if strings.TrimSpace(q.CorrectAnswer) == "" || strings.TrimSpace(q.Rubric) == "" {
				out = append(out, missingItem{Path: strconv.Itoa(q.ID), Q: q})
			}
		}
	}
	walk(questions)
	return out
}

func itemTokenEstimate(item missingItem) int {
	total := openai.EstimateTokens(item.Q.Question)
	for _, opt := range item.Q.Options {
		total += openai.EstimateTokens(opt)
	}
	return total + 40 // structural overhead per item
}

// planAnswerBatches asks the model to group items under the token budget
// and falls back to deterministic chunking on any malformed plan.
func (p *Parser) planAnswerBatches(ctx context.Context, missing []missingItem) [][]missingItem {
	budget := envutil.Int("ANSWER_BATCH_TOKEN_BUDGET", 1500)

	byPath := map[string]missingItem{}
	var listing strings.Builder
	for _, item := range missing {
		byPath[item.Path] = item
		fmt.Fprintf(&listing, "- question_path=%s tokens≈%d: %s\n",
			item.Path, itemTokenEstimate(item), truncate(equations.Strip(item.Q.Question), 160))
	}

	system := fmt.Sprintf(`You plan batching for answer generation. Group the listed items into batches whose summed token estimates stay near %d tokens each, preserving the listed order. Output each batch as an array of question_path strings.`, budget)
	raw, err := p.llm.GenerateJSON(ctx, system, listing.String(), "answer_batch_plan", answerBatchPlanSchema())
	if err == nil {
		if batches := decodePlannedBatches(raw, missing, byPath, budget); len(batches) > 0 {
			return batches
		}
	} else {
		p.log.Warn("Answer batch planning failed, chunking by budget", "error", err.Error())
	}
	return chunkByBudget(missing, budget)
}

func decodePlannedBatches(raw map[string]any, missing []missingItem, byPath map[string]missingItem, budget int) [][]missingItem {
	groups, ok := raw["batches"].([]any)
	if !ok {
		return nil
	}
	var out [][]missingItem
	seen := map[string]bool{}
	for _, g := range groups {
		paths, ok := g.([]any)
		if !ok {
			continue
		}
		var batch []missingItem
		for _, pv := range paths {
			path := strings.TrimSpace(stringFromAny(pv))
			item, exists := byPath[path]
			if !exists || seen[path] {
				continue
			}
			seen[path] = true
			batch = append(batch, item)
		}
		if len(batch) > 0 {
			out = append(out, batch)
		}
	}
	// The plan must cover everything; stragglers get appended as a final
	// deterministic chunk run.
	var leftovers []missingItem
	for _, item := range missing {
		if !seen[item.Path] {
			leftovers = append(leftovers, item)
		}
	}
	if len(leftovers) > 0 {
		out = append(out, chunkByBudget(leftovers, budget)...)
	}
	return out
}

func chunkByBudget(items []missingItem, budget int) [][]missingItem {
	if budget <= 0 {
		budget = 1500
	}
	var out [][]missingItem
	var cur []missingItem
	used := 0
	for _, item := range items {
		cost := itemTokenEstimate(item)
		if len(cur) > 0 && used+cost > budget {
			out = append(out, cur)
			cur, used = nil, 0
		}
		cur = append(cur, item)
		used += cost
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

type answerPayload struct {
	CorrectAnswer string
	Rubric        string
	Equations     []schema.Equation
}

func (p *Parser) generateAnswerBatch(ctx context.Context, batchIndex int, batch []missingItem) (map[string]answerPayload, error) {
	var prompt strings.Builder
	var images []openai.ImageInput
	for _, item := range batch {
		fmt.Fprintf(&prompt, "question_path: %s\ntype: %s\nquestion: %s\n",
			item.Path, item.Q.Type, equations.Resolve(item.Q.Question, item.Q.Equations))
		for i, opt := range item.Q.Options {
			fmt.Fprintf(&prompt, "option %c: %s\n", 'A'+i, equations.Resolve(opt, item.Q.Equations))
		}
		if ref := p.diagramImageRef(ctx, item.Q); ref != "" {
			prompt.WriteString("diagram: attached image\n")
			images = append(images, openai.ImageInput{ImageURL: ref})
		}
		prompt.WriteString("\n")
	}

	var raw map[string]any
	var err error
	if len(images) > 0 {
		raw, err = p.llm.GenerateJSONWithImages(ctx, answerSystemPrompt, prompt.String(),
			images, "answer_generation", answerGenerationSchema())
	} else {
		raw, err = p.llm.GenerateJSON(ctx, answerSystemPrompt, prompt.String(),
			"answer_generation", answerGenerationSchema())
	}
	if err != nil {
		return nil, fmt.Errorf("answer batch %d: %w", batchIndex, err)
	}

	payloads := parseAnswerPayload(raw)
	if len(payloads) == 0 {
		// Empty output is a degraded batch: other batches still apply.
		p.log.Warn("Answer batch produced no responses", "batch_index", batchIndex, "items", len(batch))
	}
	return payloads, nil
}

// diagramImageRef returns a URL the generation model can fetch: a
// presigned URL when signing works, an inline base64 data URL otherwise.
func (p *Parser) diagramImageRef(ctx context.Context, q *schema.Question) string {
	if q.Diagram == nil {
		return ""
	}
	if q.Diagram.StorageURL != "" {
		return q.Diagram.StorageURL
	}
	if q.Diagram.StorageKey == "" || p.buckets == nil {
		return ""
	}
	if url, err := p.buckets.SignedURL(gcp.BucketCategoryAssignment, q.Diagram.StorageKey, 15*time.Minute); err == nil {
		return url
	} else {
		p.log.Warn("Presign failed, inlining diagram crop",
			"question_id", q.ID, "key", q.Diagram.StorageKey, "error", err.Error())
	}
	data, err := p.buckets.DownloadBytes(ctx, gcp.BucketCategoryAssignment, q.Diagram.StorageKey)
	if err != nil {
		p.log.Warn("Diagram crop download failed", "question_id", q.ID, "error", err.Error())
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

// parseAnswerPayload reads a generation response, accepting the known
// top-level key variants in priority order.
func parseAnswerPayload(raw map[string]any) map[string]answerPayload {
	var items []any
	for _, key := range answerTopLevelKeys {
		if arr, ok := raw[key].([]any); ok && len(arr) > 0 {
			items = arr
			break
		}
	}
	out := map[string]answerPayload{}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		path := strings.TrimSpace(stringFromAny(m["question_path"]))
		if path == "" {
			continue
		}
		out[path] = answerPayload{
			CorrectAnswer: stringFromAny(m["correct_answer"]),
			Rubric:        stringFromAny(m["rubric"]),
			Equations:     schema.EquationsFromAny(m["equations"]),
		}
	}
	return out
}

// mergeAnswer applies one generated payload in place, only filling fields
// that are still empty: extraction-sourced answers win over generated ones.
func mergeAnswer(q *schema.Question, payload answerPayload) {
	if strings.TrimSpace(q.CorrectAnswer) == "" && strings.TrimSpace(payload.CorrectAnswer) != "" {
		q.CorrectAnswer = payload.CorrectAnswer
	}
	if strings.TrimSpace(q.Rubric) == "" && strings.TrimSpace(payload.Rubric) != "" {
		q.Rubric = payload.Rubric
	}
	if len(payload.Equations) > 0 {
		known := map[string]bool{}
		for _, eq := range q.Equations {
			known[eq.ID] = true
		}
		for _, eq := range payload.Equations {
			if !known[eq.ID] {
				q.Equations = append(q.Equations, eq)
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary so multibyte text is never split.
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
