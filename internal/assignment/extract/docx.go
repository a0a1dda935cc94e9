package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/brightmark/assignment-backend/internal/assignment/equations"
	"github.com/brightmark/assignment-backend/internal/platform/gcp"
)

// extractDOCX parses the OOXML body into plain text (paragraphs, tables,
// OMML math rendered back to $...$ LaTeX) and uploads embedded media for
// later question association.
func (e *Extractor) extractDOCX(ctx context.Context, content []byte, fileName string) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open docx archive: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open document.xml: %w", err)
			}
			docXML, err = io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return nil, fmt.Errorf("read document.xml: %w", err)
			}
			break
		}
	}
	if len(docXML) == 0 {
		return nil, fmt.Errorf("docx missing word/document.xml")
	}

	text, err := docxBodyText(docXML)
	if err != nil {
		return nil, fmt.Errorf("parse document.xml: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("docx contains no extractable text")
	}

	embedded := e.uploadDocxMedia(ctx, zr, fileName)

	return &Result{
		Kind:           KindText,
		Text:           text,
		EmbeddedImages: embedded,
	}, nil
}

// docxBodyText walks the OOXML token stream once. Paragraphs become lines,
// table cells become tab-separated fields, and m:oMath islands are rendered
// to LaTeX inline so the equation detector downstream picks them up.
func docxBodyText(docXML []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(docXML))

	var out strings.Builder
	inText := false
	cellDepth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tc":
				cellDepth++
			case "tab":
				out.WriteString("\t")
			case "br", "cr":
				out.WriteString("\n")
			case "oMath":
				latex, err := equations.OMMLFromDecoder(dec, t)
				if err != nil {
					return "", fmt.Errorf("omml island: %w", err)
				}
				if latex != "" {
					out.WriteString("$" + latex + "$")
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				// Paragraph breaks inside table cells would split the row.
				if cellDepth == 0 {
					out.WriteString("\n")
				}
			case "tc":
				if cellDepth > 0 {
					cellDepth--
				}
				out.WriteString("\t")
			case "tr":
				out.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				out.Write(t)
			}
		}
	}

	// Collapse runs of blank lines left by empty paragraphs.
	lines := strings.Split(out.String(), "\n")
	cleaned := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			cleaned = append(cleaned, "")
			continue
		}
		blank = 0
		cleaned = append(cleaned, strings.TrimRight(line, "\t "))
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n")), nil
}

// uploadDocxMedia uploads word/media/* blobs to storage. Upload failures
// degrade to fewer embedded images, never a failed extraction.
func (e *Extractor) uploadDocxMedia(ctx context.Context, zr *zip.Reader, fileName string) []EmbeddedImage {
	if e.buckets == nil {
		return nil
	}
	docID := uuid.NewString()
	var out []EmbeddedImage
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "word/media/") || f.FileInfo().IsDir() {
			continue
		}
		base := path.Base(f.Name)
		ext := strings.ToLower(path.Ext(base))
		switch ext {
		case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		default:
			continue
		}
		rc, err := f.Open()
		if err != nil {
			e.log.Warn("Skipping unreadable docx media", "file_name", fileName, "entry", f.Name, "error", err.Error())
			continue
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil || len(data) == 0 {
			continue
		}
		key := fmt.Sprintf("assignments/%s/media/%s", docID, base)
		if err := e.buckets.UploadFile(ctx, gcp.BucketCategoryAssignment, key, bytes.NewReader(data)); err != nil {
			e.log.Warn("Failed uploading docx media", "file_name", fileName, "key", key, "error", err.Error())
			continue
		}
		out = append(out, EmbeddedImage{
			ImageID:    strings.TrimSuffix(base, path.Ext(base)),
			StorageKey: key,
		})
	}
	return out
}
