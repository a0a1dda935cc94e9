package equations

import (
	"encoding/xml"
	"strings"
)

// OMML (Office Math Markup, the <m:oMath> islands inside DOCX) to LaTeX.
// The conversion is structural, not exhaustive: fractions, sub/superscripts,
// radicals, delimiter groups, n-ary operators and plain runs cover the math
// that shows up in assignment documents; anything else degrades to the
// concatenated run text.

type ommlNode struct {
	name     string
	text     string
	attrs    []xml.Attr
	children []*ommlNode
}

func (n *ommlNode) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	n.name = start.Name.Local
	n.attrs = start.Attr
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child := &ommlNode{}
			if err := child.UnmarshalXML(d, t); err != nil {
				return err
			}
			n.children = append(n.children, child)
		case xml.CharData:
			n.text += string(t)
		case xml.EndElement:
			return nil
		}
	}
}

func (n *ommlNode) firstChild(name string) *ommlNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *ommlNode) attrVal(local string) string {
	for _, a := range n.attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// OMMLToLatex converts one OMML fragment (an <m:oMath> element or any
// subtree of one) to LaTeX. Empty input yields empty output.
func OMMLToLatex(ommlXML string) string {
	ommlXML = strings.TrimSpace(ommlXML)
	if ommlXML == "" {
		return ""
	}
	dec := xml.NewDecoder(strings.NewReader(ommlXML))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		root := &ommlNode{}
		if err := root.UnmarshalXML(dec, start); err != nil {
			return ""
		}
		return strings.TrimSpace(renderOMML(root))
	}
}

// OMMLFromDecoder consumes one OMML element subtree from an in-progress
// XML token stream (start already read) and renders it as LaTeX. Used by
// the DOCX extractor, which walks document.xml with a single decoder.
func OMMLFromDecoder(d *xml.Decoder, start xml.StartElement) (string, error) {
	root := &ommlNode{}
	if err := root.UnmarshalXML(d, start); err != nil {
		return "", err
	}
	return strings.TrimSpace(renderOMML(root)), nil
}

func renderOMML(n *ommlNode) string {
	if n == nil {
		return ""
	}
	switch n.name {
	case "t":
		return n.text
	case "f": // fraction
		num := renderOMML(n.firstChild("num"))
		den := renderOMML(n.firstChild("den"))
		return "\\frac{" + num + "}{" + den + "}"
	case "sSup":
		base := renderOMML(n.firstChild("e"))
		sup := renderOMML(n.firstChild("sup"))
		return braceWrap(base) + "^{" + sup + "}"
	case "sSub":
		base := renderOMML(n.firstChild("e"))
		sub := renderOMML(n.firstChild("sub"))
		return braceWrap(base) + "_{" + sub + "}"
	case "sSubSup":
		base := renderOMML(n.firstChild("e"))
		sub := renderOMML(n.firstChild("sub"))
		sup := renderOMML(n.firstChild("sup"))
		return braceWrap(base) + "_{" + sub + "}^{" + sup + "}"
	case "rad":
		deg := renderOMML(n.firstChild("deg"))
		e := renderOMML(n.firstChild("e"))
		if strings.TrimSpace(deg) != "" {
			return "\\sqrt[" + deg + "]{" + e + "}"
		}
		return "\\sqrt{" + e + "}"
	case "d": // delimiter group
		var inner []string
		for _, c := range n.children {
			if c.name == "e" {
				inner = append(inner, renderOMML(c))
			}
		}
		return "\\left(" + strings.Join(inner, ", ") + "\\right)"
	case "nary": // summation/integral style operators
		chr := "\\sum"
		if pr := n.firstChild("naryPr"); pr != nil {
			if c := pr.firstChild("chr"); c != nil {
				switch c.attrVal("val") {
				case "∫":
					chr = "\\int"
				case "∏":
					chr = "\\prod"
				case "∑", "":
					chr = "\\sum"
				default:
					chr = c.attrVal("val")
				}
			}
		}
		sub := renderOMML(n.firstChild("sub"))
		sup := renderOMML(n.firstChild("sup"))
		e := renderOMML(n.firstChild("e"))
		out := chr
		if strings.TrimSpace(sub) != "" {
			out += "_{" + sub + "}"
		}
		if strings.TrimSpace(sup) != "" {
			out += "^{" + sup + "}"
		}
		return out + " " + e
	case "bar":
		return "\\overline{" + renderOMML(n.firstChild("e")) + "}"
	default:
		var b strings.Builder
		for _, c := range n.children {
			b.WriteString(renderOMML(c))
		}
		return b.String()
	}
}

func braceWrap(s string) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= 1 {
		return s
	}
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s
	}
	if strings.HasPrefix(s, "\\") && !strings.ContainsAny(s, " ^_") {
		return s
	}
	return "{" + s + "}"
}

// ContainsMathML reports whether text carries an embedded MathML island.
func ContainsMathML(text string) bool {
	low := strings.ToLower(text)
	return strings.Contains(low, "<math") && strings.Contains(low, "</math>")
}

// MathMLToLatex converts a MathML fragment to LaTeX on a best-effort
// basis: a TeX annotation is used verbatim when present, otherwise the
// element text is flattened.
func MathMLToLatex(mathML string) string {
	mathML = strings.TrimSpace(mathML)
	if mathML == "" {
		return ""
	}
	dec := xml.NewDecoder(strings.NewReader(mathML))
	dec.Strict = false

	var flat strings.Builder
	inAnnotation := false
	annotation := ""
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "annotation" {
				for _, a := range t.Attr {
					if a.Name.Local == "encoding" && strings.Contains(strings.ToLower(a.Value), "tex") {
						inAnnotation = true
					}
				}
			}
		case xml.EndElement:
			if t.Name.Local == "annotation" {
				inAnnotation = false
			}
		case xml.CharData:
			if inAnnotation {
				annotation += string(t)
			} else {
				flat.Write([]byte(t))
			}
		}
	}
	if strings.TrimSpace(annotation) != "" {
		return strings.TrimSpace(annotation)
	}
	return strings.Join(strings.Fields(flat.String()), " ")
}
