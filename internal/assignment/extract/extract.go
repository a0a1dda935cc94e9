package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/brightmark/assignment-backend/internal/assignment/schema"
	pkgerrors "github.com/brightmark/assignment-backend/internal/pkg/errors"
	"github.com/brightmark/assignment-backend/internal/platform/gcp"
	"github.com/brightmark/assignment-backend/internal/platform/localmedia"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
	"github.com/brightmark/assignment-backend/internal/platform/openai"
)

// PageImage is one rendered source page. Bytes are PNG.
type PageImage struct {
	PageNumber int
	PNG        []byte
}

// EmbeddedImage is a pixel blob pulled out of a DOCX, already uploaded to
// storage for later question association.
type EmbeddedImage struct {
	ImageID    string
	StorageKey string
}

// Result is the outcome of document extraction: either plain text or a
// list of page images, depending on the source format. PDF sources carry
// both (pages for the extraction model, OCR text for fallbacks).
type Result struct {
	Kind           string // "text" | "pages"
	Text           string
	Pages          []PageImage
	EmbeddedImages []EmbeddedImage
	Equations      []schema.Equation
	Language       string
}

const (
	KindText  = "text"
	KindPages = "pages"
)

// Extractor converts raw file blobs into text or page images by MIME type.
type Extractor struct {
	log     *logger.Logger
	tools   localmedia.Tools
	llm     openai.Client
	buckets gcp.BucketService
}

func NewExtractor(log *logger.Logger, tools localmedia.Tools, llm openai.Client, buckets gcp.BucketService) *Extractor {
	return &Extractor{
		log:     log.With("service", "DocumentTextExtractor"),
		tools:   tools,
		llm:     llm,
		buckets: buckets,
	}
}

// Extract dispatches on MIME type. Unsupported types and undecodable
// content surface as a DocumentExtractionError.
func (e *Extractor) Extract(ctx context.Context, content []byte, fileName, mimeType string) (*Result, error) {
	if len(content) == 0 {
		return nil, &pkgerrors.DocumentExtractionError{
			MimeType: mimeType,
			FileName: fileName,
			Cause:    fmt.Errorf("empty file"),
		}
	}

	mt := normalizeMime(mimeType, fileName)
	switch mt {
	case "application/pdf":
		res, err := e.extractPDF(ctx, content, fileName)
		if err != nil {
			return nil, &pkgerrors.DocumentExtractionError{MimeType: mt, FileName: fileName, Cause: err}
		}
		return res, nil
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		res, err := e.extractDOCX(ctx, content, fileName)
		if err != nil {
			return nil, &pkgerrors.DocumentExtractionError{MimeType: mt, FileName: fileName, Cause: err}
		}
		return res, nil
	case "text/plain", "text/markdown", "text/html", "text/csv", "application/json":
		res, err := e.extractText(content, mt)
		if err != nil {
			return nil, &pkgerrors.DocumentExtractionError{MimeType: mt, FileName: fileName, Cause: err}
		}
		return res, nil
	default:
		return nil, &pkgerrors.DocumentExtractionError{
			MimeType: mt,
			FileName: fileName,
			Cause:    pkgerrors.ErrUnsupportedMime,
		}
	}
}

func normalizeMime(mimeType, fileName string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt != "" && mt != "application/octet-stream" {
		return mt
	}
	low := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(low, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(low, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case strings.HasSuffix(low, ".md"), strings.HasSuffix(low, ".markdown"):
		return "text/markdown"
	case strings.HasSuffix(low, ".html"), strings.HasSuffix(low, ".htm"):
		return "text/html"
	case strings.HasSuffix(low, ".csv"):
		return "text/csv"
	case strings.HasSuffix(low, ".json"):
		return "application/json"
	case strings.HasSuffix(low, ".txt"):
		return "text/plain"
	}
	return mt
}
