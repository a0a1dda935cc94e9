package gcp

import (
	"context"
	"fmt"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/brightmark/assignment-backend/internal/platform/ctxutil"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
)

// DetectedBox is one localized object on a page image. Coordinates are
// normalized to [0,1] relative to the image dimensions.
type DetectedBox struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X0         float64 `json:"x0"`
	Y0         float64 `json:"y0"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
}

// ObjectDetector localizes figure-like regions on rendered page images.
type ObjectDetector interface {
	DetectObjects(ctx context.Context, img []byte) ([]DetectedBox, error)
	Close() error
}

type objectDetector struct {
	log          *logger.Logger
	visionClient *vision.ImageAnnotatorClient
}

func NewObjectDetector(log *logger.Logger) (ObjectDetector, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.ObjectDetector")

	ctx := context.Background()
	vClient, err := vision.NewImageAnnotatorClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &objectDetector{log: slog, visionClient: vClient}, nil
}

func (d *objectDetector) Close() error {
	if d == nil || d.visionClient == nil {
		return nil
	}
	return d.visionClient.Close()
}

func (d *objectDetector) DetectObjects(ctx context.Context, img []byte) ([]DetectedBox, error) {
	if len(img) == 0 {
		return nil, nil
	}

	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req := &visionpb.AnnotateImageRequest{
		Image: &visionpb.Image{Content: img},
		Features: []*visionpb.Feature{
			{Type: visionpb.Feature_OBJECT_LOCALIZATION},
		},
	}
	br := &visionpb.BatchAnnotateImagesRequest{Requests: []*visionpb.AnnotateImageRequest{req}}
	resp, err := d.visionClient.BatchAnnotateImages(ctx, br)
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return nil, nil
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}

	out := make([]DetectedBox, 0, len(r0.LocalizedObjectAnnotations))
	for _, ann := range r0.LocalizedObjectAnnotations {
		if ann == nil {
			continue
		}
		box, ok := boxFromNormalizedPoly(ann.BoundingPoly)
		if !ok {
			continue
		}
		box.Class = ann.Name
		box.Confidence = float64(ann.Score)
		out = append(out, box)
	}
	return out, nil
}

func boxFromNormalizedPoly(bp *visionpb.BoundingPoly) (DetectedBox, bool) {
	var box DetectedBox
	if bp == nil || len(bp.NormalizedVertices) == 0 {
		return box, false
	}
	first := true
	for _, v := range bp.NormalizedVertices {
		if v == nil {
			continue
		}
		x, y := float64(v.X), float64(v.Y)
		if first {
			box.X0, box.X1 = x, x
			box.Y0, box.Y1 = y, y
			first = false
			continue
		}
		if x < box.X0 {
			box.X0 = x
		}
		if x > box.X1 {
			box.X1 = x
		}
		if y < box.Y0 {
			box.Y0 = y
		}
		if y > box.Y1 {
			box.Y1 = y
		}
	}
	if first || box.X1 <= box.X0 || box.Y1 <= box.Y0 {
		return box, false
	}
	return box, true
}
