package parser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"sort"

	"github.com/google/uuid"

	"github.com/brightmark/assignment-backend/internal/assignment/extract"
	"github.com/brightmark/assignment-backend/internal/assignment/schema"
	"github.com/brightmark/assignment-backend/internal/platform/gcp"
)

// locateDiagrams is Step 2: run the object detector over every page that
// has questions waiting on a diagram, assign detected boxes to questions,
// crop and upload each assigned region. All failures here degrade to "no
// localization" for the affected page; the parse never aborts.
func (p *Parser) locateDiagrams(ctx context.Context, questions []*schema.Question, pages []extract.PageImage) {
	if p.detector == nil {
		p.log.Warn("No object detector configured, skipping diagram localization")
		return
	}

	// Document-order lists of diagram-flagged questions per page.
	byPage := map[int][]*schema.Question{}
	schema.Walk(questions, func(q *schema.Question) {
		if q.HasDiagram && q.Diagram != nil && q.Diagram.PageNumber > 0 {
			byPage[q.Diagram.PageNumber] = append(byPage[q.Diagram.PageNumber], q)
		}
	})
	if len(byPage) == 0 {
		return
	}

	pageByNumber := map[int]extract.PageImage{}
	for _, pg := range pages {
		pageByNumber[pg.PageNumber] = pg
	}

	for pageNum, pending := range byPage {
		pg, ok := pageByNumber[pageNum]
		if !ok {
			p.log.Warn("Diagram page not in rendered set", "page_number", pageNum, "questions", len(pending))
			continue
		}
		boxes, err := p.detector.DetectObjects(ctx, pg.PNG)
		if err != nil {
			p.log.Warn("Object detection failed", "page_number", pageNum, "error", err.Error())
			continue
		}
		assigned := AssignBoxes(len(pending), boxes)
		for i, box := range assigned {
			q := pending[i]
			if err := p.attachCrop(ctx, q, pg, box); err != nil {
				p.log.Warn("Diagram crop failed",
					"page_number", pageNum, "question_id", q.ID, "error", err.Error())
			}
		}
		// Questions beyond the assigned boxes keep hasDiagram=true with no
		// bounding box; downstream tolerates that.
	}
}

// AssignBoxes implements the page-level assignment policy for N questions
// needing diagrams and M detected boxes:
//   - N=1, M>=1: the single highest-confidence box.
//   - M>=N: top-N boxes by confidence, re-sorted top-to-bottom by vertical
//     position, zipped with questions in document order.
//   - M<N: all M boxes sorted top-to-bottom, assigned to the first M
//     questions in document order.
//
// The result length is min(N, M); ordering is deterministic.
func AssignBoxes(numQuestions int, boxes []gcp.DetectedBox) []gcp.DetectedBox {
	if numQuestions <= 0 || len(boxes) == 0 {
		return nil
	}

	byConfidence := append([]gcp.DetectedBox(nil), boxes...)
	sort.SliceStable(byConfidence, func(i, j int) bool {
		return byConfidence[i].Confidence > byConfidence[j].Confidence
	})

	if numQuestions == 1 {
		return byConfidence[:1]
	}

	take := numQuestions
	if take > len(byConfidence) {
		take = len(byConfidence)
	}
	chosen := append([]gcp.DetectedBox(nil), byConfidence[:take]...)
	sort.SliceStable(chosen, func(i, j int) bool {
		return chosen[i].Y0 < chosen[j].Y0
	})
	return chosen
}

// attachCrop cuts the assigned box out of the page image, uploads the
// crop and records the reference on the question.
func (p *Parser) attachCrop(ctx context.Context, q *schema.Question, pg extract.PageImage, box gcp.DetectedBox) error {
	img, err := png.Decode(bytes.NewReader(pg.PNG))
	if err != nil {
		return fmt.Errorf("decode page png: %w", err)
	}
	bounds := img.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	rect := image.Rect(
		bounds.Min.X+int(box.X0*w),
		bounds.Min.Y+int(box.Y0*h),
		bounds.Min.X+int(box.X1*w),
		bounds.Min.Y+int(box.Y1*h),
	).Intersect(bounds)
	if rect.Empty() {
		return fmt.Errorf("bounding box collapses to empty rect")
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(crop, crop.Bounds(), img, rect.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return fmt.Errorf("encode crop: %w", err)
	}

	if q.Diagram == nil {
		q.Diagram = &schema.Diagram{PageNumber: pg.PageNumber}
	}
	q.Diagram.BoundingBox = []float64{
		float64(rect.Min.X), float64(rect.Min.Y),
		float64(rect.Max.X), float64(rect.Max.Y),
	}
	q.Diagram.Confidence = box.Confidence

	if p.buckets == nil {
		return nil
	}
	key := fmt.Sprintf("assignments/diagram-crops/%s.png", uuid.NewString())
	if err := p.buckets.UploadFile(ctx, gcp.BucketCategoryAssignment, key, bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("upload crop: %w", err)
	}
	q.Diagram.StorageKey = key
	return nil
}
