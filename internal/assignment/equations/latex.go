package equations

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/brightmark/assignment-backend/internal/assignment/schema"
)

// Extraction of math markup from raw document text into <eq id>
// placeholders plus a per-question equations array. Ids are namespaced by
// the caller-supplied prefix (q{qid}, q{qid}_opt{A}, q{qid}_ans, q{qid}_rub).

type delimiter struct {
	open    string
	close   string
	display bool
}

// Ordered longest-open-first so $$ wins over $ and \[ wins over \(.
var delimiters = []delimiter{
	{open: "$$", close: "$$", display: true},
	{open: "\\[", close: "\\]", display: true},
	{open: "\\(", close: "\\)", display: false},
	{open: "$", close: "$", display: false},
}

// Extract finds LaTeX math in text ($...$, $$...$$, \(...\), \[...\]),
// replaces each occurrence with a canonical <eq id> placeholder and returns
// the rewritten text plus the extracted equations. context is recorded on
// each equation's position. Currency-looking $ spans are left untouched.
func Extract(text string, idPrefix string, context string) (string, []schema.Equation) {
	if !strings.ContainsAny(text, "$\\") {
		return text, nil
	}
	if context == "" {
		context = schema.ContextQuestionText
	}

	out := text
	var eqs []schema.Equation
	for _, d := range delimiters {
		out, eqs = extractDelimited(out, d, idPrefix, context, eqs)
	}
	return out, eqs
}

func extractDelimited(text string, d delimiter, idPrefix, context string, existing []schema.Equation) (string, []schema.Equation) {
	if strings.TrimSpace(text) == "" || !strings.Contains(text, d.open) {
		return text, existing
	}
	var b strings.Builder
	b.Grow(len(text))

	matchAt := func(s string, i int, tok string) bool {
		if i < 0 || i+len(tok) > len(s) || s[i:i+len(tok)] != tok {
			return false
		}
		// Skip escaped dollar signs; \( and \[ are themselves backslash
		// tokens, so the escape check only applies to $-style delimiters.
		if strings.HasPrefix(tok, "$") {
			slashes := 0
			for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
				slashes++
			}
			if slashes%2 == 1 {
				return false
			}
		}
		return true
	}

	for i := 0; i < len(text); {
		if !matchAt(text, i, d.open) {
			b.WriteByte(text[i])
			i++
			continue
		}
		// Do not treat the first $ of $$ as an inline opener.
		if d.open == "$" && i+1 < len(text) && text[i+1] == '$' {
			b.WriteByte(text[i])
			b.WriteByte(text[i+1])
			i += 2
			continue
		}
		start := i + len(d.open)
		j := start
		for j < len(text) && !matchAt(text, j, d.close) {
			j++
		}
		if j >= len(text) {
			b.WriteString(text[i : i+len(d.open)])
			i += len(d.open)
			continue
		}
		content := strings.TrimSpace(text[start:j])
		if !looksLikeMath(content) {
			b.WriteString(text[i : j+len(d.close)])
			i = j + len(d.close)
			continue
		}
		id := fmt.Sprintf("%s_eq%d", idPrefix, len(existing)+1)
		placeholder := fmt.Sprintf("<eq %s>", id)
		charIndex := b.Len()
		b.WriteString(placeholder)
		eqType := "inline"
		if d.display {
			eqType = "display"
		}
		existing = append(existing, schema.Equation{
			ID:    id,
			Latex: content,
			Type:  eqType,
			Position: schema.EquationPosition{
				CharIndex: charIndex,
				Context:   context,
			},
		})
		i = j + len(d.close)
	}

	return b.String(), existing
}

func looksLikeMath(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	// Currency guard: $12.99, $1,000 style spans are not math, and neither
	// is the prose between two currency amounts on the same line.
	onlyDigits := true
	hasOperator := false
	hasSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			hasSpace = true
		case unicode.IsDigit(r), r == ',', r == '.':
		default:
			onlyDigits = false
		}
		switch r {
		case '\\', '^', '_', '=', '+', '-', '*', '/', '{', '}', '[', ']':
			hasOperator = true
		}
	}
	if onlyDigits {
		return false
	}
	if hasOperator {
		return true
	}
	// A bare symbol or short token ("x", "2x", "F") is math; a sentence
	// fragment with spaces and no operators is prose.
	return !hasSpace
}

var placeholderRe = regexp.MustCompile(`<eq\s+([A-Za-z0-9_]+)\s*>`)

// Resolve substitutes every <eq id> placeholder in text with the literal
// LaTeX of the matching equation. Unknown ids are left in place. Diagram
// tools and answer generation must see real values, not opaque tokens.
func Resolve(text string, eqs []schema.Equation) string {
	if len(eqs) == 0 || !strings.Contains(text, "<eq") {
		return text
	}
	byID := make(map[string]string, len(eqs))
	for _, eq := range eqs {
		byID[eq.ID] = eq.Latex
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		if len(sub) != 2 {
			return m
		}
		if latex, ok := byID[sub[1]]; ok {
			return latex
		}
		return m
	})
}

// Strip removes every <eq id> placeholder from text, collapsing the
// surrounding whitespace. Used when a prompt must not carry opaque tokens
// and no equation array is available.
func Strip(text string) string {
	if !strings.Contains(text, "<eq") {
		return text
	}
	out := placeholderRe.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(out), " ")
}
