package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/brightmark/assignment-backend/internal/platform/localmedia"
	"github.com/brightmark/assignment-backend/internal/platform/openai"
)

const ocrSystemPrompt = `You are a precise OCR engine. Transcribe all visible text from the page image exactly as written, preserving question numbering, point annotations, and mathematical notation. Wrap inline math in $...$ and display math in $$...$$. Output only the transcription, no commentary.`

// extractPDF renders each page to a PNG and OCRs the pages with the vision
// model. OCR failure falls back to the deterministic library extractor; the
// page images are kept either way because the parser pipeline consumes
// them directly.
func (e *Extractor) extractPDF(ctx context.Context, content []byte, fileName string) (*Result, error) {
	pdfPath, cleanupPDF, err := e.tools.WriteTempFile(ctx, content, ".pdf")
	if err != nil {
		return nil, fmt.Errorf("stage pdf: %w", err)
	}
	defer cleanupPDF()

	outDir, cleanupDir, err := e.tools.ScratchDir("pages")
	if err != nil {
		return nil, fmt.Errorf("page scratch dir: %w", err)
	}
	defer cleanupDir()

	paths, err := e.tools.RenderPDFToImages(ctx, pdfPath, outDir, localmedia.PDFRenderOptions{Format: "png"})
	if err != nil {
		return nil, fmt.Errorf("render pdf pages: %w", err)
	}

	pages := make([]PageImage, 0, len(paths))
	for i, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read rendered page %d: %w", i+1, err)
		}
		pages = append(pages, PageImage{PageNumber: i + 1, PNG: b})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf produced no pages")
	}

	text, ocrErr := e.ocrPages(ctx, pages)
	if ocrErr != nil {
		e.log.Warn("Vision OCR failed, falling back to library extraction",
			"file_name", fileName, "pages", len(pages), "error", ocrErr.Error())
		text, err = libraryPDFText(pdfPath)
		if err != nil {
			e.log.Warn("Library PDF extraction also failed", "file_name", fileName, "error", err.Error())
			text = ""
		}
	}

	return &Result{
		Kind:  KindPages,
		Text:  text,
		Pages: pages,
	}, nil
}

func (e *Extractor) ocrPages(ctx context.Context, pages []PageImage) (string, error) {
	var out strings.Builder
	for _, page := range pages {
		txt, err := e.llm.GenerateTextWithImages(ctx, ocrSystemPrompt,
			fmt.Sprintf("Transcribe page %d.", page.PageNumber),
			[]openai.ImageInput{{ImageURL: PNGDataURL(page.PNG), Detail: "high"}},
		)
		if err != nil {
			return "", fmt.Errorf("ocr page %d: %w", page.PageNumber, err)
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(strings.TrimSpace(txt))
	}
	return out.String(), nil
}

// libraryPDFText is the deterministic fallback when vision OCR is down.
func libraryPDFText(pdfPath string) (string, error) {
	f, reader, err := pdf.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	var out strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(text)
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("no extractable text")
	}
	return out.String(), nil
}

// PNGDataURL encodes PNG bytes as a data URL for multimodal model input.
func PNGDataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
