package extract

import (
	"strings"
	"testing"
)

func TestDecodeWithFallbacks(t *testing.T) {
	if got, err := decodeWithFallbacks([]byte("plain ascii")); err != nil || got != "plain ascii" {
		t.Fatalf("ascii decode: %q, %v", got, err)
	}

	// UTF-8 with BOM.
	if got, err := decodeWithFallbacks([]byte{0xEF, 0xBB, 0xBF, 'h', 'i'}); err != nil || got != "hi" {
		t.Fatalf("utf8 bom decode: %q, %v", got, err)
	}

	// UTF-16 LE with BOM: "ab"
	le := []byte{0xFF, 0xFE, 'a', 0x00, 'b', 0x00}
	if got, err := decodeWithFallbacks(le); err != nil || got != "ab" {
		t.Fatalf("utf16le decode: %q, %v", got, err)
	}

	// Latin-1 bytes that are invalid UTF-8.
	latin := []byte{'c', 'a', 'f', 0xE9}
	got, err := decodeWithFallbacks(latin)
	if err != nil || got != "café" {
		t.Fatalf("latin1 decode: %q, %v", got, err)
	}
}

func TestHTMLToPlainPreservesMath(t *testing.T) {
	html := `<html><body><h1>Quiz</h1><p>Solve $2x+5=13$ for x.</p>` +
		`<script>alert("no")</script></body></html>`
	out := htmlToPlain(html)
	if !strings.Contains(out, "$2x+5=13$") {
		t.Fatalf("math delimiters lost: %q", out)
	}
	if strings.Contains(out, "alert") || strings.Contains(out, "<p>") {
		t.Fatalf("markup leaked: %q", out)
	}
}

func TestMarkdownToPlain(t *testing.T) {
	md := "# Homework 3\n\nSolve **this** problem: $x^2 = 4$\n\nSee [notes](https://example.com/notes)."
	out := markdownToPlain(md)
	if strings.Contains(out, "#") || strings.Contains(out, "**") || strings.Contains(out, "](") {
		t.Fatalf("markdown syntax leaked: %q", out)
	}
	if !strings.Contains(out, "$x^2 = 4$") {
		t.Fatalf("math delimiters lost: %q", out)
	}
	if !strings.Contains(out, "notes") {
		t.Fatalf("link text lost: %q", out)
	}
}

func TestNormalizeMime(t *testing.T) {
	cases := []struct {
		mime, name, want string
	}{
		{"application/pdf", "a.pdf", "application/pdf"},
		{"application/octet-stream", "quiz.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"", "notes.md", "text/markdown"},
		{"text/plain; charset=utf-8", "a.txt", "text/plain"},
		{"", "data.json", "application/json"},
	}
	for _, c := range cases {
		if got := normalizeMime(c.mime, c.name); got != c.want {
			t.Fatalf("normalizeMime(%q,%q) = %q, want %q", c.mime, c.name, got, c.want)
		}
	}
}
