package parser

import (
	"context"
	"fmt"
	"time"

	"github.com/brightmark/assignment-backend/internal/assignment/extract"
	"github.com/brightmark/assignment-backend/internal/assignment/schema"
	"github.com/brightmark/assignment-backend/internal/observability"
	"github.com/brightmark/assignment-backend/internal/platform/gcp"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
	"github.com/brightmark/assignment-backend/internal/platform/openai"
)

// Pipeline stages, in order. Every stage is a strict barrier: no stage
// starts before all workers of the previous one returned.
const (
	StagePagesRendered    = "pages_rendered"
	StageBatched          = "batched"
	StageExtracted        = "extracted"
	StageDiagramsLocated  = "diagrams_located"
	StageAnswersBackfilled = "answers_backfilled"
	StageNormalized       = "normalized"
)

// Parser runs the multi-step document-to-assignment extraction pipeline.
// The detector and bucket service are optional: without them Step 2
// degrades to no diagram localization.
type Parser struct {
	log      *logger.Logger
	llm      openai.Client
	detector gcp.ObjectDetector
	buckets  gcp.BucketService
}

func NewParser(log *logger.Logger, llm openai.Client, detector gcp.ObjectDetector, buckets gcp.BucketService) *Parser {
	return &Parser{
		log:      log.With("service", "AssignmentDocumentParser"),
		llm:      llm,
		detector: detector,
		buckets:  buckets,
	}
}

func (p *Parser) observeStage(stage string, start time.Time, err error) {
	m := observability.Current()
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ObserveParseStage(stage, status, time.Since(start))
}

// ParsePages runs the full PDF pipeline over rendered page images.
func (p *Parser) ParsePages(ctx context.Context, pages []extract.PageImage, fileName string) (*schema.Assignment, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to parse")
	}

	// PAGES_RENDERED -> BATCHED
	start := time.Now()
	plan := p.planBatches(ctx, pages)
	p.observeStage(StageBatched, start, nil)
	p.log.Info("Pages batched",
		"file_name", fileName,
		"pages", len(pages),
		"batches", len(plan.Batches),
		"language", plan.Language,
	)

	// BATCHED -> EXTRACTED
	start = time.Now()
	questions, err := p.extractBatches(ctx, plan.Batches)
	p.observeStage(StageExtracted, start, err)
	if err != nil {
		return nil, err
	}
	p.log.Info("Batches extracted", "file_name", fileName, "questions", len(questions))

	// EXTRACTED -> DIAGRAMS_LOCATED
	start = time.Now()
	p.locateDiagrams(ctx, questions, pages)
	p.observeStage(StageDiagramsLocated, start, nil)

	// DIAGRAMS_LOCATED -> ANSWERS_BACKFILLED
	start = time.Now()
	p.backfillAnswers(ctx, questions)
	p.observeStage(StageAnswersBackfilled, start, nil)

	// -> NORMALIZED
	start = time.Now()
	assignment := schema.Normalize(&schema.Assignment{
		Title:       plan.Title,
		Description: plan.Description,
		Questions:   questions,
	}, fileName, p.log)
	p.observeStage(StageNormalized, start, nil)

	return assignment, nil
}

// ParseText runs the text pipeline: one extraction call over the document
// text, then answer back-fill and normalization. No page batching or
// diagram localization applies.
func (p *Parser) ParseText(ctx context.Context, text string, fileName string) (*schema.Assignment, error) {
	if len(text) == 0 {
		return nil, fmt.Errorf("no text to parse")
	}

	start := time.Now()
	questions, err := p.extractFromText(ctx, text)
	p.observeStage(StageExtracted, start, err)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	p.backfillAnswers(ctx, questions)
	p.observeStage(StageAnswersBackfilled, start, nil)

	start = time.Now()
	assignment := schema.Normalize(&schema.Assignment{Questions: questions}, fileName, p.log)
	p.observeStage(StageNormalized, start, nil)
	return assignment, nil
}

func pageImageInputs(pages []extract.PageImage) []openai.ImageInput {
	out := make([]openai.ImageInput, 0, len(pages))
	for _, pg := range pages {
		out = append(out, openai.ImageInput{
			ImageURL: extract.PNGDataURL(pg.PNG),
			Detail:   "high",
		})
	}
	return out
}
