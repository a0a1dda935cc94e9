package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/brightmark/assignment-backend/internal/assignment/equations"
	"github.com/brightmark/assignment-backend/internal/assignment/schema"
)

// extractText decodes plain-ish formats with fallback encodings, converts
// light markup to plain text while preserving math delimiters, and runs
// the equation detector over the result.
func (e *Extractor) extractText(content []byte, mimeType string) (*Result, error) {
	text, err := decodeWithFallbacks(content)
	if err != nil {
		return nil, err
	}

	switch mimeType {
	case "text/html":
		text = htmlToPlain(text)
	case "text/markdown":
		text = markdownToPlain(text)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("file decoded to empty text")
	}

	// Detection only: the text keeps its original delimiters so the
	// extraction model sees the math in place; the equations array is a
	// preview for callers that skip model extraction.
	_, eqs := equations.Extract(text, "doc", schema.ContextQuestionText)

	return &Result{
		Kind:      KindText,
		Text:      text,
		Equations: eqs,
	}, nil
}

func decodeWithFallbacks(content []byte) (string, error) {
	// UTF-16 BOMs first.
	if len(content) >= 2 {
		if content[0] == 0xFF && content[1] == 0xFE {
			return decodeUTF16(content[2:], false)
		}
		if content[0] == 0xFE && content[1] == 0xFF {
			return decodeUTF16(content[2:], true)
		}
	}
	// UTF-8 (with optional BOM).
	b := content
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		b = b[3:]
	}
	if utf8.Valid(b) {
		return string(b), nil
	}
	// Latin-1 last resort: every byte maps to a rune, so this cannot fail,
	// only mis-render exotic encodings.
	runes := make([]rune, 0, len(b))
	for _, c := range b {
		runes = append(runes, rune(c))
	}
	return string(runes), nil
}

func decodeUTF16(b []byte, bigEndian bool) (string, error) {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	u16 := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		if bigEndian {
			u16 = append(u16, uint16(b[i])<<8|uint16(b[i+1]))
		} else {
			u16 = append(u16, uint16(b[i+1])<<8|uint16(b[i]))
		}
	}
	return string(utf16.Decode(u16)), nil
}

var (
	htmlScriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlBreakRe  = regexp.MustCompile(`(?i)<(br|/p|/div|/li|/tr|/h[1-6])[^>]*>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

// htmlToPlain drops tags but keeps $...$ and \(...\) spans intact:
// equation delimiters never look like tags, so tag stripping is safe.
func htmlToPlain(s string) string {
	s = htmlScriptRe.ReplaceAllString(s, " ")
	s = htmlBreakRe.ReplaceAllString(s, "\n")
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'",
	).Replace(s)
	return collapseBlankLines(s)
}

var (
	mdHeadingRe = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphRe    = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_]+)(\*{1,3}|_{1,3})`)
	mdLinkRe    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
)

func markdownToPlain(s string) string {
	s = mdHeadingRe.ReplaceAllString(s, "")
	s = mdLinkRe.ReplaceAllString(s, "$1")
	s = mdEmphRe.ReplaceAllString(s, "$2")
	return collapseBlankLines(s)
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
