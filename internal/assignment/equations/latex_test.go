package equations

import (
	"strings"
	"testing"

	"github.com/brightmark/assignment-backend/internal/assignment/schema"
)

func TestExtractInlineAndDisplay(t *testing.T) {
	text := "Solve $2x+5=13$ and then evaluate $$\\int_0^1 x\\,dx$$ for full credit."
	out, eqs := Extract(text, "q1", schema.ContextQuestionText)
	if len(eqs) != 2 {
		t.Fatalf("expected 2 equations, got %d: %+v", len(eqs), eqs)
	}
	if !strings.Contains(out, "<eq q1_eq1>") || !strings.Contains(out, "<eq q1_eq2>") {
		t.Fatalf("placeholders missing from output: %q", out)
	}
	if strings.Contains(out, "$") {
		t.Fatalf("delimiters left in output: %q", out)
	}

	var inline, display *schema.Equation
	for i := range eqs {
		switch eqs[i].Type {
		case "inline":
			inline = &eqs[i]
		case "display":
			display = &eqs[i]
		}
	}
	if inline == nil || inline.Latex != "2x+5=13" {
		t.Fatalf("inline equation wrong: %+v", inline)
	}
	if display == nil || display.Latex != "\\int_0^1 x\\,dx" {
		t.Fatalf("display equation wrong: %+v", display)
	}
	for _, eq := range eqs {
		if eq.Position.Context != schema.ContextQuestionText {
			t.Fatalf("context = %q", eq.Position.Context)
		}
	}
}

func TestExtractBackslashDelimiters(t *testing.T) {
	text := "Given \\(F = ma\\) and \\[E = mc^2\\], derive the relation."
	out, eqs := Extract(text, "q2", schema.ContextQuestionText)
	if len(eqs) != 2 {
		t.Fatalf("expected 2 equations, got %d", len(eqs))
	}
	if strings.Contains(out, "\\(") || strings.Contains(out, "\\[") {
		t.Fatalf("backslash delimiters left in output: %q", out)
	}
}

func TestExtractCurrencyGuard(t *testing.T) {
	text := "The widget costs $12.99 and the premium one costs $1,000 today."
	out, eqs := Extract(text, "q3", schema.ContextQuestionText)
	if len(eqs) != 0 {
		t.Fatalf("currency extracted as math: %+v", eqs)
	}
	if out != text {
		t.Fatalf("currency text mutated: %q", out)
	}
}

func TestResolveAndStrip(t *testing.T) {
	eqs := []schema.Equation{
		{ID: "q1_eq1", Latex: "2x+5=13", Type: "inline"},
	}
	text := "Solve <eq q1_eq1> for x."
	if got := Resolve(text, eqs); got != "Solve 2x+5=13 for x." {
		t.Fatalf("Resolve = %q", got)
	}
	// Unknown ids stay put.
	if got := Resolve("See <eq missing>", eqs); got != "See <eq missing>" {
		t.Fatalf("Resolve unknown = %q", got)
	}
	if got := Strip(text); got != "Solve for x." {
		t.Fatalf("Strip = %q", got)
	}
}

func TestOMMLToLatexFraction(t *testing.T) {
	omml := `<m:oMath xmlns:m="http://schemas.openxmlformats.org/officeDocument/2006/math">` +
		`<m:f><m:num><m:r><m:t>a</m:t></m:r></m:num><m:den><m:r><m:t>b</m:t></m:r></m:den></m:f>` +
		`</m:oMath>`
	if got := OMMLToLatex(omml); got != "\\frac{a}{b}" {
		t.Fatalf("OMMLToLatex = %q", got)
	}
}

func TestOMMLToLatexSuperscriptAndRadical(t *testing.T) {
	omml := `<m:oMath xmlns:m="http://schemas.openxmlformats.org/officeDocument/2006/math">` +
		`<m:sSup><m:e><m:r><m:t>x</m:t></m:r></m:e><m:sup><m:r><m:t>2</m:t></m:r></m:sup></m:sSup>` +
		`<m:rad><m:e><m:r><m:t>y</m:t></m:r></m:e></m:rad>` +
		`</m:oMath>`
	got := OMMLToLatex(omml)
	if !strings.Contains(got, "x^{2}") || !strings.Contains(got, "\\sqrt{y}") {
		t.Fatalf("OMMLToLatex = %q", got)
	}
}

func TestMathMLToLatexPrefersAnnotation(t *testing.T) {
	mathML := `<math><semantics><mrow><mi>x</mi></mrow>` +
		`<annotation encoding="application/x-tex">x^2 + 1</annotation></semantics></math>`
	if got := MathMLToLatex(mathML); got != "x^2 + 1" {
		t.Fatalf("MathMLToLatex = %q", got)
	}
	if !ContainsMathML(mathML) {
		t.Fatalf("ContainsMathML false for MathML input")
	}
}
