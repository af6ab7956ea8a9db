package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/ledongthuc/pdf"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	coverWidth  = 400
	coverHeight = 600
	jpegQuality = 90
)

// Gradient endpoints for the placeholder background.
var (
	gradTop    = color.RGBA{R: 0x0e, G: 0xa5, B: 0xe9, A: 0xff}
	gradBottom = color.RGBA{R: 0x25, G: 0x63, B: 0xeb, A: 0xff}
)

// PageCount parses a PDF held in memory and returns its page count.
func PageCount(data []byte) (int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	pages := reader.NumPage()
	if pages <= 0 {
		return 0, fmt.Errorf("pdf reports %d pages", pages)
	}
	return pages, nil
}

// GeneratePlaceholder renders a JPEG cover for PDFs uploaded without one:
// page-count text over a gradient, matching the site's card dimensions.
func GeneratePlaceholder(pages int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, coverWidth, coverHeight))
	for y := 0; y < coverHeight; y++ {
		c := lerpColor(gradTop, gradBottom, float64(y)/float64(coverHeight-1))
		for x := 0; x < coverWidth; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	drawCentered(img, "PDF Document", coverHeight/2)
	drawCentered(img, fmt.Sprintf("%d pages", pages), coverHeight*3/5)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func drawCentered(img *image.RGBA, text string, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
	}
	width := d.MeasureString(text)
	d.Dot = fixed.Point26_6{
		X: (fixed.I(coverWidth) - width) / 2,
		Y: fixed.I(y),
	}
	d.DrawString(text)
}

func lerpColor(a, b color.RGBA, t float64) color.RGBA {
	lerp := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t)
	}
	return color.RGBA{
		R: lerp(a.R, b.R),
		G: lerp(a.G, b.G),
		B: lerp(a.B, b.B),
		A: 0xff,
	}
}
