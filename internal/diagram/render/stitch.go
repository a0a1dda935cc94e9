package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"
)

const (
	stitchHeaderH = 36
	stitchMaxW    = 1400
)

// StitchVertical composes two or more PNGs into one image, top to bottom,
// each section under a labeled header band. Sections wider than the
// composite are scaled down to fit.
func (r *Renderer) StitchVertical(images [][]byte, labels []string) ([]byte, error) {
	if len(images) < 2 {
		return nil, fmt.Errorf("stitch needs at least two images, got %d", len(images))
	}

	decoded := make([]image.Image, 0, len(images))
	width := 0
	for i, data := range images {
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode section %d: %w", i, err)
		}
		decoded = append(decoded, img)
		if w := img.Bounds().Dx(); w > width {
			width = w
		}
	}
	if width > stitchMaxW {
		width = stitchMaxW
	}

	height := 0
	scaled := make([]image.Image, len(decoded))
	for i, img := range decoded {
		b := img.Bounds()
		if b.Dx() > width {
			h := b.Dy() * width / b.Dx()
			dst := image.NewRGBA(image.Rect(0, 0, width, h))
			xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
			scaled[i] = dst
		} else {
			scaled[i] = img
		}
		height += stitchHeaderH + scaled[i].Bounds().Dy()
	}

	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	if r.face != nil {
		dc.SetFontFace(r.face)
	}

	y := 0
	for i, img := range scaled {
		label := ""
		if i < len(labels) {
			label = labels[i]
		}
		dc.SetColor(color.Black)
		if label != "" {
			dc.DrawStringAnchored(label, 12, float64(y)+stitchHeaderH/2, 0, 0.5)
		}
		dc.DrawLine(0, float64(y+stitchHeaderH)-2, float64(width), float64(y+stitchHeaderH)-2)
		dc.Stroke()
		x := (width - img.Bounds().Dx()) / 2
		dc.DrawImage(img, x, y+stitchHeaderH)
		y += stitchHeaderH + img.Bounds().Dy()
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode stitched png: %w", err)
	}
	return buf.Bytes(), nil
}
