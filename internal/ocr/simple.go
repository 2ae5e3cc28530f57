package ocr

import (
	"context"
	"image"
	"image/color"
	"math"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"plate-node/internal/imaging"
)

const (
	plateAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	minGlyphScore = 0.5
	minGlyphInk   = 3
)

// bitmap is a binary glyph cut to its ink bounding box.
type bitmap struct {
	w, h int
	ink  []bool
}

func (b bitmap) at(x, y int) bool { return b.ink[y*b.w+x] }

type template struct {
	char rune
	bitmap
}

// SimpleEngine reads plates by template matching against the basicfont 7x13
// glyphs. It needs no model and is always ready.
type SimpleEngine struct {
	templates []template
}

func NewSimpleEngine() *SimpleEngine {
	return &SimpleEngine{templates: buildTemplates(plateAlphabet)}
}

func (e *SimpleEngine) Name() string   { return "Simple OCR Engine" }
func (e *SimpleEngine) Method() Method { return MethodSimple }
func (e *SimpleEngine) IsReady() bool  { return true }
func (e *SimpleEngine) Close() error   { return nil }

func (e *SimpleEngine) Recognize(ctx context.Context, img image.Image) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	g := imaging.EqualizeHist(imaging.ToGray(img))
	bin := imaging.Binarize(g, imaging.OtsuThreshold(g))
	w, h := bin.Rect.Dx(), bin.Rect.Dy()
	if w == 0 || h == 0 {
		return Reading{}, ErrNoText
	}

	// Plates carry dark text on a light background; flip when the image is
	// mostly dark so that ink is always the minority class.
	light := 0
	for _, v := range bin.Pix {
		if v == 255 {
			light++
		}
	}
	inkValue := uint8(0)
	if light < w*h-light {
		inkValue = 255
	}
	ink := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ink[y*w+x] = bin.Pix[y*bin.Stride+x] == inkValue
		}
	}

	var sb strings.Builder
	var total float64
	count := 0
	for _, glyph := range segmentGlyphs(ink, w, h) {
		char, score := e.match(glyph)
		if score < minGlyphScore {
			continue
		}
		sb.WriteRune(char)
		total += score
		count++
	}
	if count == 0 {
		return Reading{}, ErrNoText
	}
	return Reading{Text: sb.String(), Confidence: total / float64(count)}, nil
}

func (e *SimpleEngine) match(glyph bitmap) (rune, float64) {
	best, bestScore := rune(0), 0.0
	for _, t := range e.templates {
		if s := similarity(glyph, t.bitmap); s > bestScore {
			best, bestScore = t.char, s
		}
	}
	return best, bestScore
}

// similarity is the Jaccard index of the two ink sets after scaling the
// template onto the glyph grid, weighted by how close their aspect ratios are.
func similarity(glyph, tpl bitmap) float64 {
	var inter, union int
	for y := 0; y < glyph.h; y++ {
		ty := y * tpl.h / glyph.h
		for x := 0; x < glyph.w; x++ {
			tx := x * tpl.w / glyph.w
			a, b := glyph.at(x, y), tpl.at(tx, ty)
			if a && b {
				inter++
			}
			if a || b {
				union++
			}
		}
	}
	if union == 0 {
		return 0
	}
	ar1 := float64(glyph.w) / float64(glyph.h)
	ar2 := float64(tpl.w) / float64(tpl.h)
	return float64(inter) / float64(union) * math.Min(ar1, ar2) / math.Max(ar1, ar2)
}

// segmentGlyphs splits the ink mask on empty columns and trims each run to its
// ink rows.
func segmentGlyphs(ink []bool, w, h int) []bitmap {
	colHasInk := func(x int) bool {
		for y := 0; y < h; y++ {
			if ink[y*w+x] {
				return true
			}
		}
		return false
	}

	var glyphs []bitmap
	for x := 0; x < w; {
		if !colHasInk(x) {
			x++
			continue
		}
		start := x
		for x < w && colHasInk(x) {
			x++
		}
		if b, ok := cut(ink, w, h, image.Rect(start, 0, x, h)); ok {
			glyphs = append(glyphs, b)
		}
	}
	return glyphs
}

// cut returns the ink inside r trimmed to its bounding box.
func cut(ink []bool, w, h int, r image.Rectangle) (bitmap, bool) {
	minX, minY, maxX, maxY := r.Max.X, r.Max.Y, -1, -1
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if ink[y*w+x] {
				n++
				minX, maxX = min(minX, x), max(maxX, x)
				minY, maxY = min(minY, y), max(maxY, y)
			}
		}
	}
	if n < minGlyphInk {
		return bitmap{}, false
	}
	b := bitmap{w: maxX - minX + 1, h: maxY - minY + 1}
	b.ink = make([]bool, b.w*b.h)
	for y := 0; y < b.h; y++ {
		for x := 0; x < b.w; x++ {
			b.ink[y*b.w+x] = ink[(minY+y)*w+minX+x]
		}
	}
	return b, true
}

func buildTemplates(alphabet string) []template {
	face := basicfont.Face7x13
	var out []template
	for _, r := range alphabet {
		canvas := image.NewGray(image.Rect(0, 0, face.Advance, face.Height))
		d := &font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(color.White),
			Face: face,
			Dot:  fixed.P(0, face.Ascent),
		}
		d.DrawString(string(r))

		w, h := canvas.Rect.Dx(), canvas.Rect.Dy()
		ink := make([]bool, w*h)
		for i, v := range canvas.Pix {
			ink[i] = v > 127
		}
		if b, ok := cut(ink, w, h, canvas.Rect); ok {
			out = append(out, template{char: r, bitmap: b})
		}
	}
	return out
}
