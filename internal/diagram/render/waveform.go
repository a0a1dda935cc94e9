package render

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/fogleman/gg"
)

type waveformSignal struct {
	Name   string
	Role   string
	Levels []int
}

const (
	waveRowH   = 70.0
	waveUnitW  = 60.0
	waveLabelW = 110.0
	wavePad    = 30.0
	waveHigh   = 22.0
)

// renderWaveform draws a timing diagram. Input signals show their given
// levels; output signals render as an empty labeled row so the student can
// fill in the waveform themselves.
func (r *Renderer) renderWaveform(req Request) ([]byte, error) {
	signals := waveformSignals(req.Args)
	if len(signals) == 0 {
		return nil, fmt.Errorf("waveform renderer: no signals in tool arguments")
	}
	units := intArg(req.Args, "time_units")
	for _, s := range signals {
		if len(s.Levels) > units {
			units = len(s.Levels)
		}
	}
	if units < 1 {
		return nil, fmt.Errorf("waveform renderer: no time units")
	}

	width := int(waveLabelW + waveUnitW*float64(units) + wavePad*2)
	height := int(waveRowH*float64(len(signals)) + wavePad*2 + 30)
	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetColor(color.Black)
	dc.SetLineWidth(2)
	if r.face != nil {
		dc.SetFontFace(r.face)
	}

	originX := wavePad + waveLabelW
	for i, s := range signals {
		rowTop := wavePad + waveRowH*float64(i)
		baseline := rowTop + waveRowH - 18
		dc.DrawStringAnchored(s.Name, wavePad+waveLabelW-14, rowTop+waveRowH/2, 1, 0.5)

		if s.Role == "output" {
			// Blank row: baseline only, values left for the student.
			dc.SetDash(4, 4)
			dc.DrawLine(originX, baseline, originX+waveUnitW*float64(units), baseline)
			dc.Stroke()
			dc.SetDash()
			continue
		}
		drawLevels(dc, s.Levels, originX, baseline, units)
	}

	// Time axis with unit ticks.
	axisY := wavePad + waveRowH*float64(len(signals)) + 8
	dc.DrawLine(originX, axisY, originX+waveUnitW*float64(units), axisY)
	dc.Stroke()
	for t := 0; t <= units; t++ {
		x := originX + waveUnitW*float64(t)
		dc.DrawLine(x, axisY-4, x, axisY+4)
		dc.Stroke()
		dc.DrawStringAnchored(fmt.Sprintf("%d", t), x, axisY+16, 0.5, 0.5)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode waveform png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawLevels(dc *gg.Context, levels []int, originX, baseline float64, units int) {
	yFor := func(level int) float64 {
		if level > 0 {
			return baseline - waveHigh
		}
		return baseline
	}
	prev := 0
	if len(levels) > 0 {
		prev = levels[0]
	}
	dc.MoveTo(originX, yFor(prev))
	for t := 0; t < units; t++ {
		level := prev
		if t < len(levels) {
			level = levels[t]
		}
		x := originX + waveUnitW*float64(t)
		if level != prev {
			dc.LineTo(x, yFor(prev))
			dc.LineTo(x, yFor(level))
		}
		dc.LineTo(x+waveUnitW, yFor(level))
		prev = level
	}
	dc.Stroke()
}

func waveformSignals(args map[string]any) []waveformSignal {
	raw, _ := args["signals"].([]any)
	var out []waveformSignal
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		s := waveformSignal{}
		s.Name, _ = m["name"].(string)
		s.Role, _ = m["role"].(string)
		if levels, ok := m["levels"].([]any); ok {
			for _, lv := range levels {
				s.Levels = append(s.Levels, int(floatArg(lv)))
			}
		}
		if s.Name == "" {
			continue
		}
		if s.Role != "output" {
			s.Role = "input"
		}
		out = append(out, s)
	}
	return out
}

func intArg(args map[string]any, key string) int {
	return int(floatArg(args[key]))
}

func floatArg(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
