package compare

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/visreg/visreg/screenshot"
)

var diffColor = color.RGBA{R: 255, A: 255}

// diffResult is the outcome of comparing two decoded images
type diffResult struct {
	misMatchPercentage float64
	sameDimensions     bool
	differing          int
	mask               *image.RGBA
}

// exact reports whether no compared pixel differs
func (d diffResult) exact() bool {
	return d.sameDimensions && d.differing == 0
}

// diffImages compares two PNG images pixel by pixel. Pixels inside an
// excluded rectangle always count as equal; pixels outside the overlap of
// differently sized images always count as different.
func diffImages(baseline, current []byte, exclude []screenshot.Region) (diffResult, error) {
	a, err := png.Decode(bytes.NewReader(baseline))
	if err != nil {
		return diffResult{}, fmt.Errorf("failed to decode baseline: %w", err)
	}
	b, err := png.Decode(bytes.NewReader(current))
	if err != nil {
		return diffResult{}, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	ab, bb := a.Bounds(), b.Bounds()
	width := max(ab.Dx(), bb.Dx())
	height := max(ab.Dy(), bb.Dy())
	total := width * height
	if total == 0 {
		return diffResult{sameDimensions: ab.Size() == bb.Size()}, nil
	}

	masked := excludedRects(exclude)
	mask := image.NewRGBA(image.Rect(0, 0, width, height))

	differing := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if inAny(masked, x, y) {
				continue
			}

			inA := x < ab.Dx() && y < ab.Dy()
			inB := x < bb.Dx() && y < bb.Dy()
			if inA && inB && sameColor(a.At(ab.Min.X+x, ab.Min.Y+y), b.At(bb.Min.X+x, bb.Min.Y+y)) {
				continue
			}

			differing++
			mask.SetRGBA(x, y, diffColor)
		}
	}

	return diffResult{
		misMatchPercentage: round2(float64(differing) / float64(total) * 100),
		sameDimensions:     ab.Size() == bb.Size(),
		differing:          differing,
		mask:               mask,
	}, nil
}

func excludedRects(regions []screenshot.Region) []image.Rectangle {
	var rects []image.Rectangle
	for _, r := range regions {
		if r.IsRect() {
			rects = append(rects, image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height))
		}
	}
	return rects
}

func inAny(rects []image.Rectangle, x, y int) bool {
	p := image.Pt(x, y)
	for _, r := range rects {
		if p.In(r) {
			return true
		}
	}
	return false
}

func sameColor(a, b color.Color) bool {
	r1, g1, b1, a1 := a.RGBA()
	r2, g2, b2, a2 := b.RGBA()
	return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
