package render

import (
	"bytes"
	"fmt"
	"image/color"
	"math"

	"github.com/fogleman/gg"
)

type circuitElement struct {
	Kind  string
	Label string
}

const (
	elemSlotW   = 150.0
	circuitRowH = 180.0
	circuitPad  = 60.0
)

// renderCircuit draws the element list as a series chain with a return
// wire, schematic-style. It renders exactly the labels it is given; no
// derived values appear.
func (r *Renderer) renderCircuit(req Request) ([]byte, error) {
	elements := circuitElements(req.Args)
	if len(elements) == 0 {
		return nil, fmt.Errorf("circuit renderer: no elements in tool arguments")
	}

	width := int(circuitPad*2 + elemSlotW*float64(len(elements)))
	height := int(circuitRowH + circuitPad*2)
	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetColor(color.Black)
	dc.SetLineWidth(2)
	if r.face != nil {
		dc.SetFontFace(r.face)
	}

	y := circuitPad + circuitRowH/2
	x := circuitPad
	for _, el := range elements {
		drawElement(dc, el, x, y, elemSlotW)
		x += elemSlotW
	}

	// Return wire closing the loop.
	right := circuitPad + elemSlotW*float64(len(elements))
	bottom := float64(height) - circuitPad/2
	dc.DrawLine(right, y, right, bottom)
	dc.DrawLine(right, bottom, circuitPad, bottom)
	dc.DrawLine(circuitPad, bottom, circuitPad, y)
	dc.Stroke()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode circuit png: %w", err)
	}
	return buf.Bytes(), nil
}

func circuitElements(args map[string]any) []circuitElement {
	raw, _ := args["elements"].([]any)
	var out []circuitElement
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := m["kind"].(string)
		label, _ := m["label"].(string)
		if kind == "" {
			continue
		}
		out = append(out, circuitElement{Kind: kind, Label: label})
	}
	return out
}

// drawElement renders one schematic symbol centered in a horizontal slot,
// with lead wires on both sides and the label above.
func drawElement(dc *gg.Context, el circuitElement, x, y, w float64) {
	symW := w * 0.5
	lead := (w - symW) / 2
	sx := x + lead

	dc.DrawLine(x, y, sx, y)
	dc.DrawLine(sx+symW, y, x+w, y)
	dc.Stroke()

	switch el.Kind {
	case "resistor":
		drawZigzag(dc, sx, y, symW)
	case "capacitor":
		mid := sx + symW/2
		dc.DrawLine(sx, y, mid-6, y)
		dc.DrawLine(mid-6, y-16, mid-6, y+16)
		dc.DrawLine(mid+6, y-16, mid+6, y+16)
		dc.DrawLine(mid+6, y, sx+symW, y)
		dc.Stroke()
	case "inductor":
		drawCoil(dc, sx, y, symW)
	case "battery":
		mid := sx + symW/2
		dc.DrawLine(sx, y, mid-5, y)
		dc.DrawLine(mid-5, y-20, mid-5, y+20)
		dc.DrawLine(mid+5, y-10, mid+5, y+10)
		dc.DrawLine(mid+5, y, sx+symW, y)
		dc.Stroke()
	case "switch":
		dc.DrawLine(sx, y, sx+symW*0.3, y)
		dc.DrawLine(sx+symW*0.3, y, sx+symW*0.7, y-18)
		dc.DrawLine(sx+symW*0.7, y, sx+symW, y)
		dc.Stroke()
		dc.DrawCircle(sx+symW*0.3, y, 3)
		dc.DrawCircle(sx+symW*0.7, y, 3)
		dc.Stroke()
	case "and_gate", "or_gate", "not_gate", "xor_gate", "dff":
		dc.DrawRectangle(sx, y-24, symW, 48)
		dc.Stroke()
		dc.DrawStringAnchored(gateSymbol(el.Kind), sx+symW/2, y, 0.5, 0.5)
	default: // wire
		dc.DrawLine(sx, y, sx+symW, y)
		dc.Stroke()
	}

	if el.Label != "" {
		dc.DrawStringAnchored(el.Label, x+w/2, y-34, 0.5, 0.5)
	}
}

func gateSymbol(kind string) string {
	switch kind {
	case "and_gate":
		return "AND"
	case "or_gate":
		return "OR"
	case "not_gate":
		return "NOT"
	case "xor_gate":
		return "XOR"
	case "dff":
		return "D  Q"
	default:
		return "?"
	}
}

func drawZigzag(dc *gg.Context, x, y, w float64) {
	const peaks = 6
	step := w / peaks
	dc.MoveTo(x, y)
	for i := 0; i < peaks; i++ {
		dir := 1.0
		if i%2 == 0 {
			dir = -1.0
		}
		dc.LineTo(x+step*(float64(i)+0.5), y+12*dir)
		dc.LineTo(x+step*float64(i+1), y)
	}
	dc.Stroke()
}

func drawCoil(dc *gg.Context, x, y, w float64) {
	const loops = 4
	rr := w / (2 * loops)
	for i := 0; i < loops; i++ {
		cx := x + rr*(2*float64(i)+1)
		dc.DrawArc(cx, y, rr, math.Pi, 2*math.Pi)
		dc.Stroke()
	}
}
