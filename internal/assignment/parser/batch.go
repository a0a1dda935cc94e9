package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/brightmark/assignment-backend/internal/assignment/extract"
)

// PageBatch groups page images that one extraction call processes
// together. Page numbers are the original 1-indexed source pages; a
// question's continuation pages are never split across batches.
type PageBatch struct {
	Index int
	Pages []extract.PageImage
}

type batchPlan struct {
	Batches     []PageBatch
	Title       string
	Description string
	Language    string
}

const batchPlanSystemPrompt = `You are planning extraction for a scanned assignment document. For every page decide whether it contains assignment questions (cover pages, formula sheets, and blank pages do not). Detect the document language and extract a best-effort title and one-sentence description. Then group the question pages into batches for extraction, using the original 1-indexed page numbers. Rules: a batch may only contain pages that have questions; a question that continues across pages must stay inside one batch; keep batches small (2-4 pages) otherwise.`

// planBatches is the Step 0 classification call. It is advisory: any
// failure or an empty plan degrades to one batch of all flagged pages (all
// pages if nothing was flagged), with empty title and description.
func (p *Parser) planBatches(ctx context.Context, pages []extract.PageImage) batchPlan {
	fallback := func(flagged []extract.PageImage, reason string, err error) batchPlan {
		if len(flagged) == 0 {
			flagged = pages
		}
		kvs := []any{"reason", reason, "pages", len(flagged)}
		if err != nil {
			kvs = append(kvs, "error", err.Error())
		}
		p.log.Warn("Batch plan degraded to single batch", kvs...)
		return batchPlan{Batches: []PageBatch{{Index: 0, Pages: flagged}}}
	}

	user := fmt.Sprintf("The document has %d pages, attached in order.", len(pages))
	raw, err := p.llm.GenerateJSONWithImages(ctx, batchPlanSystemPrompt, user,
		pageImageInputs(pages), "assignment_batch_plan", batchPlanSchema())
	if err != nil {
		return fallback(nil, "plan_call_failed", err)
	}

	byNumber := make(map[int]extract.PageImage, len(pages))
	for _, pg := range pages {
		byNumber[pg.PageNumber] = pg
	}

	flaggedSet := map[int]bool{}
	if arr, ok := raw["pages"].([]any); ok {
		for _, item := range arr {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			num := intFromAny(m["page_number"])
			has, _ := m["has_questions"].(bool)
			if has {
				flaggedSet[num] = true
			}
		}
	}
	var flagged []extract.PageImage
	for _, pg := range pages {
		if flaggedSet[pg.PageNumber] {
			flagged = append(flagged, pg)
		}
	}

	plan := batchPlan{
		Title:       strings.TrimSpace(stringFromAny(raw["title"])),
		Description: strings.TrimSpace(stringFromAny(raw["description"])),
		Language:    strings.TrimSpace(stringFromAny(raw["language"])),
	}

	groups, ok := raw["batches"].([]any)
	if !ok || len(groups) == 0 {
		fb := fallback(flagged, "empty_batches", nil)
		fb.Title, fb.Description, fb.Language = plan.Title, plan.Description, plan.Language
		return fb
	}

	seen := map[int]bool{}
	for _, g := range groups {
		nums, ok := g.([]any)
		if !ok {
			continue
		}
		var batchPages []extract.PageImage
		for _, n := range nums {
			num := intFromAny(n)
			pg, exists := byNumber[num]
			if !exists || seen[num] {
				continue
			}
			// Only pages flagged has_questions may enter a batch.
			if len(flaggedSet) > 0 && !flaggedSet[num] {
				continue
			}
			seen[num] = true
			batchPages = append(batchPages, pg)
		}
		if len(batchPages) > 0 {
			plan.Batches = append(plan.Batches, PageBatch{Index: len(plan.Batches), Pages: batchPages})
		}
	}
	if len(plan.Batches) == 0 {
		fb := fallback(flagged, "no_usable_batches", nil)
		fb.Title, fb.Description, fb.Language = plan.Title, plan.Description, plan.Language
		return fb
	}
	return plan
}

func intFromAny(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	default:
		return 0
	}
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return s
}
