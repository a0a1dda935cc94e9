// Package agent runs per-question diagram analysis: classify, decide via
// tool calling, render through the tool chain, review, and attach the
// accepted diagram to the question.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/brightmark/assignment-backend/internal/assignment/equations"
	"github.com/brightmark/assignment-backend/internal/assignment/schema"
	"github.com/brightmark/assignment-backend/internal/diagram/prompts"
	"github.com/brightmark/assignment-backend/internal/diagram/render"
	"github.com/brightmark/assignment-backend/internal/diagram/router"
	"github.com/brightmark/assignment-backend/internal/observability"
	"github.com/brightmark/assignment-backend/internal/pkg/parallel"
	"github.com/brightmark/assignment-backend/internal/platform/envutil"
	"github.com/brightmark/assignment-backend/internal/platform/gcp"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
	"github.com/brightmark/assignment-backend/internal/platform/openai"
)

type Agent struct {
	log      *logger.Logger
	llm      openai.Client
	router   *router.DomainRouter
	fallback router.FallbackRouter
	renderer *render.Renderer
	buckets  gcp.BucketService
}

func NewAgent(log *logger.Logger, llm openai.Client, domainRouter *router.DomainRouter, renderer *render.Renderer, buckets gcp.BucketService) *Agent {
	return &Agent{
		log:      log.With("component", "diagram_agent"),
		llm:      llm,
		router:   domainRouter,
		renderer: renderer,
		buckets:  buckets,
	}
}

// Options carries the per-assignment knobs of one analysis run.
type Options struct {
	AssignmentID string
	// AllowTypePromotion permits promoting draw/trace questions to the
	// diagram-analysis type.
	AllowTypePromotion bool
	// GenerationPrompt is appended to the decide-stage system prompt,
	// typically course-level guidance from the caller.
	GenerationPrompt string
	// SubjectHint biases domain classification when the caller knows the
	// course subject.
	SubjectHint string
}

// AnalyzeAndGenerate processes every top-level question concurrently and
// returns the tree with diagrams attached where warranted. A failure in
// one question leaves that question unmodified; the run as a whole never
// fails.
func (a *Agent) AnalyzeAndGenerate(ctx context.Context, questions []*schema.Question, opts Options) []*schema.Question {
	limit := envutil.Int("DIAGRAM_AGENT_CONCURRENCY", 3)
	results, err := parallel.Map(ctx, questions, limit,
		func(ctx context.Context, i int, q *schema.Question) (*schema.Question, error) {
			return a.processQuestion(ctx, q, opts)
		})
	if err != nil {
		a.log.Warn("Diagram analysis canceled", "error", err.Error())
		return questions
	}
	out := make([]*schema.Question, len(questions))
	for i, res := range results {
		if res.Err != nil {
			a.log.Warn("Diagram analysis failed for question",
				"question_id", questions[i].ID, "error", res.Err.Error())
			out[i] = questions[i]
			continue
		}
		out[i] = res.Value
	}
	return out
}

const decideUserTemplate = `Question:
%s

Decide whether this question needs a generated diagram. If it does, call the single best tool (or a primary tool plus one supplementary tool, e.g. a circuit and its timing waveform). If the text alone suffices, answer in plain text that no diagram is needed. The diagram may only show quantities stated in the question; any value the student must determine stays out of the image, and output waveform rows stay blank.`

func (a *Agent) processQuestion(ctx context.Context, q *schema.Question, opts Options) (*schema.Question, error) {
	resolved := equations.Resolve(q.Question, q.Equations)

	cls, err := a.router.Classify(ctx, resolved, opts.SubjectHint)
	if err != nil {
		return nil, fmt.Errorf("classify question %d: %w", q.ID, err)
	}

	system := prompts.SystemPrompt(cls.Domain)
	if strings.TrimSpace(opts.GenerationPrompt) != "" {
		system += "\n\n" + opts.GenerationPrompt
	}
	decision, err := a.llm.GenerateWithTools(ctx, system, fmt.Sprintf(decideUserTemplate, resolved), render.ToolDefs())
	if err != nil {
		return nil, fmt.Errorf("decide question %d: %w", q.ID, err)
	}
	if len(decision.ToolCalls) == 0 {
		// Decline is terminal.
		a.log.Debug("No diagram needed", "question_id", q.ID)
		observability.Current().IncDiagramOutcome(cls.Domain, "", "declined")
		return q, nil
	}

	primary := decision.ToolCalls[0]
	description := stringArg(primary.Arguments, "description")
	if description == "" {
		description = resolved
	}

	image, reviewed, err := a.renderPrimary(ctx, q, cls, primary, description, resolved)
	if err != nil {
		observability.Current().IncDiagramOutcome(cls.Domain, primary.Name, "failed")
		return nil, err
	}
	observability.Current().IncDiagramOutcome(cls.Domain, primary.Name, "generated")

	if len(decision.ToolCalls) > 1 {
		if composite, serr := a.renderSupplementary(ctx, cls, decision.ToolCalls[1], image, resolved); serr != nil {
			a.log.Warn("Supplementary diagram skipped", "question_id", q.ID, "error", serr.Error())
		} else {
			image = composite
			reviewed = false
		}
	}

	if !reviewed {
		image = a.reviewAndRepair(ctx, q, cls, primary, description, resolved, image)
	}

	return a.attach(ctx, q, cls, opts, description, image)
}

// renderPrimary routes the first tool call. The AI image engine runs its
// own generate-review retry loop; everything else takes the renderer
// chain. The returned bool reports whether the image already passed
// review.
func (a *Agent) renderPrimary(ctx context.Context, q *schema.Question, cls router.Classification, call openai.ToolCall, description, questionText string) ([]byte, bool, error) {
	if cls.AISuitable || call.Name == render.ToolAIImage {
		if img, err := a.aiImageLoop(ctx, q, cls, description, questionText); err == nil {
			return img, true, nil
		} else {
			a.log.Warn("AI image attempts exhausted, taking renderer path",
				"question_id", q.ID, "error", err.Error())
		}
	}
	img, err := a.renderWithFallbacks(ctx, q, cls, call, description, questionText)
	if err != nil {
		return nil, false, err
	}
	return img, false, nil
}

// renderWithFallbacks is the non-AI tool chain: preferred tool, then the
// subject fallback, then one circuit retry with an enriched description,
// then model-written rendering code as a last resort.
func (a *Agent) renderWithFallbacks(ctx context.Context, q *schema.Question, cls router.Classification, call openai.ToolCall, description, questionText string) ([]byte, error) {
	tool := call.Name
	if tool == render.ToolAIImage {
		tool = cls.PreferredTool
		if tool == render.ToolAIImage {
			tool = render.ToolCode
		}
	}

	res, err := a.renderer.Execute(ctx, render.Request{Tool: tool, Description: description, Args: call.Arguments})
	if err == nil {
		return res.PNG, nil
	}
	a.log.Warn("Primary tool failed", "question_id", q.ID, "tool", tool, "error", err.Error())

	fbTool, fbArgs := a.fallback.BuildToolArguments(cls.Domain, cls.DiagramType, description, questionText)
	observability.Current().IncRenderFallback(tool, fbTool)
	if fbTool != tool {
		res, err = a.renderer.Execute(ctx, render.Request{Tool: fbTool, Description: description, Args: fbArgs})
		if err == nil {
			return res.PNG, nil
		}
		a.log.Warn("Fallback tool failed", "question_id", q.ID, "tool", fbTool, "error", err.Error())
	}

	if tool != render.ToolCircuit && fbTool != render.ToolCircuit {
		enriched := description + "\n\nSource question for context:\n" + questionText
		res, err = a.renderer.Execute(ctx, render.Request{Tool: render.ToolCircuit, Description: enriched, Args: call.Arguments})
		if err == nil {
			return res.PNG, nil
		}
	}

	res, err = a.renderer.Execute(ctx, render.Request{
		Tool:        render.ToolCode,
		Description: description,
		Args:        map[string]any{"guidance": prompts.ToolGuidance(cls.Domain, cls.DiagramType, render.ToolCode)},
	})
	if err != nil {
		return nil, fmt.Errorf("all rendering tools failed for question %d: %w", q.ID, err)
	}
	return res.PNG, nil
}

// renderSupplementary executes a second tool call and stitches it under
// the primary image.
func (a *Agent) renderSupplementary(ctx context.Context, cls router.Classification, call openai.ToolCall, primary []byte, questionText string) ([]byte, error) {
	description := stringArg(call.Arguments, "description")
	if description == "" {
		description = questionText
	}
	res, err := a.renderer.Execute(ctx, render.Request{Tool: call.Name, Description: description, Args: call.Arguments})
	if err != nil {
		return nil, err
	}
	return a.renderer.StitchVertical(
		[][]byte{primary, res.PNG},
		[]string{sectionLabel(cls.DiagramType), sectionLabel(toolDiagramType(call.Name))},
	)
}

func toolDiagramType(tool string) string {
	switch tool {
	case render.ToolCircuit:
		return "circuit"
	case render.ToolWaveform:
		return "timing_waveform"
	default:
		return "figure"
	}
}

func sectionLabel(diagramType string) string {
	switch diagramType {
	case "timing_waveform":
		return "Timing Diagram"
	case "circuit", "logic_circuit":
		return "Circuit"
	default:
		label := strings.ReplaceAll(diagramType, "_", " ")
		if label == "" {
			return "Figure"
		}
		return strings.ToUpper(label[:1]) + label[1:]
	}
}

// attach uploads the accepted image, writes the diagram reference into the
// question, rewrites the text to reference the diagram, and applies type
// promotion for draw/trace questions.
func (a *Agent) attach(ctx context.Context, q *schema.Question, cls router.Classification, opts Options, description string, image []byte) (*schema.Question, error) {
	out := q.Clone()

	key := fmt.Sprintf("assignments/%s/diagrams/q%d_%s.png", opts.AssignmentID, q.ID, uuid.New().String())
	if a.buckets != nil {
		if err := a.buckets.UploadFile(ctx, gcp.BucketCategoryDiagram, key, bytes.NewReader(image)); err != nil {
			return nil, fmt.Errorf("upload diagram for question %d: %w", q.ID, err)
		}
		out.Diagram = &schema.Diagram{
			Caption:    description,
			StorageKey: key,
			StorageURL: a.buckets.GetPublicURL(gcp.BucketCategoryDiagram, key),
		}
	} else {
		out.Diagram = &schema.Diagram{Caption: description}
	}
	out.HasDiagram = true

	a.rewriteQuestionText(ctx, out)
	if opts.AllowTypePromotion {
		promoteDiagramAnalysisType(out, cls.DiagramType)
	}
	return out, nil
}

func stringArg(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
