package extract

import (
	"strings"
	"testing"
)

func TestDocxBodyText(t *testing.T) {
	doc := `<?xml version="1.0"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"` +
		` xmlns:m="http://schemas.openxmlformats.org/officeDocument/2006/math">` +
		`<w:body>` +
		`<w:p><w:r><w:t>Q1 (5 points): Solve </w:t></w:r>` +
		`<m:oMath><m:r><m:t>2x+5=13</m:t></m:r></m:oMath>` +
		`<w:r><w:t> for x.</w:t></w:r></w:p>` +
		`<w:p/>` +
		`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>a</w:t></w:r></w:p></w:tc>` +
		`<w:tc><w:p><w:r><w:t>b</w:t></w:r></w:p></w:tc></w:tr></w:tbl>` +
		`</w:body></w:document>`

	out, err := docxBodyText([]byte(doc))
	if err != nil {
		t.Fatalf("docxBodyText: %v", err)
	}
	if !strings.Contains(out, "Q1 (5 points): Solve $2x+5=13$ for x.") {
		t.Fatalf("paragraph with math wrong: %q", out)
	}
	if !strings.Contains(out, "a\tb") {
		t.Fatalf("table cells not tab separated: %q", out)
	}
}
