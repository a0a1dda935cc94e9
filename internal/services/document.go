// Package services wires the extraction pipeline end to end: document
// text extraction, assignment parsing, and diagram generation.
package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/brightmark/assignment-backend/internal/assignment/extract"
	"github.com/brightmark/assignment-backend/internal/assignment/parser"
	"github.com/brightmark/assignment-backend/internal/assignment/schema"
	"github.com/brightmark/assignment-backend/internal/diagram/agent"
	"github.com/brightmark/assignment-backend/internal/platform/gcp"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
)

// Diagram generation modes.
const (
	DiagramModeGenerous    = "generous"
	DiagramModeIntelligent = "intelligent"
)

// ExtractOptions carries the caller's generation toggles for one document.
type ExtractOptions struct {
	// GenerateDiagrams enables the diagram agent after parsing.
	GenerateDiagrams bool
	// DiagramMode is generous (target at least a third of questions) or
	// intelligent (quality-only, the default).
	DiagramMode string
	// SubjectHint biases the domain classifier when the course subject
	// is known.
	SubjectHint string
	// GenerationPrompt is caller-supplied guidance appended to the
	// diagram decide prompt.
	GenerationPrompt string
	// AllowTypePromotion permits promoting draw/trace questions to the
	// diagram-analysis type.
	AllowTypePromotion bool
}

type DocumentService interface {
	// ExtractDocument runs the full pipeline on one uploaded document and
	// returns the finished assignment.
	ExtractDocument(ctx context.Context, data []byte, fileName, mimeType string, opts ExtractOptions) (*schema.Assignment, error)
	// GenerateDiagrams runs only the diagram agent over an existing
	// question tree.
	GenerateDiagrams(ctx context.Context, questions []*schema.Question, assignmentID string, opts ExtractOptions) []*schema.Question
}

type documentService struct {
	log       *logger.Logger
	extractor *extract.Extractor
	parser    *parser.Parser
	agent     *agent.Agent
	buckets   gcp.BucketService
}

func NewDocumentService(log *logger.Logger, extractor *extract.Extractor, p *parser.Parser, a *agent.Agent, buckets gcp.BucketService) DocumentService {
	return &documentService{
		log:       log.With("service", "document"),
		extractor: extractor,
		parser:    p,
		agent:     a,
		buckets:   buckets,
	}
}

func (s *documentService) ExtractDocument(ctx context.Context, data []byte, fileName, mimeType string, opts ExtractOptions) (*schema.Assignment, error) {
	assignmentID := uuid.New().String()
	log := s.log.With("assignment_id", assignmentID, "file", fileName)
	log.Info("Extracting document", "mime", mimeType, "bytes", len(data))

	s.archiveSource(ctx, assignmentID, fileName, data)

	extracted, err := s.extractor.Extract(ctx, data, fileName, mimeType)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", fileName, err)
	}

	var a *schema.Assignment
	if extracted.Kind == extract.KindPages {
		a, err = s.parser.ParsePages(ctx, extracted.Pages, fileName)
	} else {
		a, err = s.parser.ParseText(ctx, extracted.Text, fileName)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fileName, err)
	}

	if opts.GenerateDiagrams && s.agent != nil {
		a.Questions = s.GenerateDiagrams(ctx, a.Questions, assignmentID, opts)
	}

	log.Info("Document extracted", "questions", len(a.Questions), "total_points", a.TotalPoints)
	return a, nil
}

// GenerateDiagrams runs the agent once and, in generous mode, a second
// pass over still-undiagrammed questions when coverage falls short of a
// third.
func (s *documentService) GenerateDiagrams(ctx context.Context, questions []*schema.Question, assignmentID string, opts ExtractOptions) []*schema.Question {
	agentOpts := agent.Options{
		AssignmentID:       assignmentID,
		AllowTypePromotion: opts.AllowTypePromotion,
		GenerationPrompt:   opts.GenerationPrompt,
		SubjectHint:        opts.SubjectHint,
	}
	if strings.EqualFold(opts.DiagramMode, DiagramModeGenerous) {
		agentOpts.GenerationPrompt = strings.TrimSpace(agentOpts.GenerationPrompt +
			"\nBe generous: when a diagram could plausibly help, generate one.")
	}

	out := s.agent.AnalyzeAndGenerate(ctx, questions, agentOpts)

	if strings.EqualFold(opts.DiagramMode, DiagramModeGenerous) && len(out) > 0 {
		if covered := diagramCount(out); covered*3 < len(out) {
			s.log.Info("Generous mode below coverage target, second pass",
				"assignment_id", assignmentID, "covered", covered, "questions", len(out))
			out = s.secondPass(ctx, out, agentOpts)
		}
	}
	return out
}

// secondPass re-runs the agent over questions without diagrams only.
func (s *documentService) secondPass(ctx context.Context, questions []*schema.Question, agentOpts agent.Options) []*schema.Question {
	var pending []*schema.Question
	indexOf := map[*schema.Question]int{}
	for i, q := range questions {
		if !q.HasDiagram {
			indexOf[q] = i
			pending = append(pending, q)
		}
	}
	if len(pending) == 0 {
		return questions
	}
	agentOpts.GenerationPrompt = strings.TrimSpace(agentOpts.GenerationPrompt +
		"\nThis question was previously judged not to need a diagram; reconsider and generate one if it adds any value.")
	redone := s.agent.AnalyzeAndGenerate(ctx, pending, agentOpts)
	for i, q := range redone {
		questions[indexOf[pending[i]]] = q
	}
	return questions
}

func diagramCount(questions []*schema.Question) int {
	n := 0
	for _, q := range questions {
		if q.HasDiagram {
			n++
		}
	}
	return n
}

// archiveSource keeps the original upload next to the assignment's other
// objects. Best effort: a storage failure never blocks extraction.
func (s *documentService) archiveSource(ctx context.Context, assignmentID, fileName string, data []byte) {
	if s.buckets == nil {
		return
	}
	key := fmt.Sprintf("assignments/%s/source/%s", assignmentID, fileName)
	if err := s.buckets.UploadFile(ctx, gcp.BucketCategoryAssignment, key, bytes.NewReader(data)); err != nil {
		s.log.Warn("Source archive failed", "assignment_id", assignmentID, "key", key, "error", err.Error())
	}
}
