package imaging

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// LetterboxFill is the padding colour used by YOLO-style letterboxing.
var LetterboxFill = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// RotatedSize returns the canvas that holds img rotated by angleDeg without
// clipping its corners.
func RotatedSize(w, h int, angleDeg float64) (int, int) {
	rad := angleDeg * math.Pi / 180
	sin := math.Abs(math.Sin(rad))
	cos := math.Abs(math.Cos(rad))
	newW := int(math.Round(float64(h)*sin + float64(w)*cos))
	newH := int(math.Round(float64(h)*cos + float64(w)*sin))
	return newW, newH
}

// Rotate turns img about its centre by angleDeg in image coordinates (positive
// angles turn the x axis towards the y axis). The canvas grows to keep every
// corner and exposed areas are black.
func Rotate(img image.Image, angleDeg float64) *image.RGBA {
	b := img.Bounds()
	newW, newH := RotatedSize(b.Dx(), b.Dy(), angleDeg)
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	rad := angleDeg * math.Pi / 180
	s, c := math.Sin(rad), math.Cos(rad)
	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	ncx, ncy := float64(newW)/2, float64(newH)/2

	m := f64.Aff3{
		c, -s, ncx - c*cx + s*cy,
		s, c, ncy - s*cx - c*cy,
	}
	draw.BiLinear.Transform(dst, m, img, b, draw.Over, nil)
	return dst
}

// Crop copies r out of img into a new zero-origin image. r is intersected with
// the image bounds first.
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// CropBand keeps the vertical centre band whose height is a third of the width.
func CropBand(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	target := w / 3
	if target <= 0 || target >= h {
		return img
	}
	top := (h - target) / 2
	if top < 0 {
		top = 0
	}
	return Crop(img, image.Rect(b.Min.X, b.Min.Y+top, b.Max.X, b.Min.Y+top+target))
}

// Letterbox scales img into a size x size square, keeping its aspect ratio and
// padding the rest. It returns the scale factor and the left/top padding needed
// to map coordinates back.
func Letterbox(img image.Image, size int) (*image.RGBA, float64, int, int) {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(LetterboxFill), image.Point{}, draw.Src)
	if b.Dx() == 0 || b.Dy() == 0 {
		return dst, 1, 0, 0
	}

	scale := math.Min(float64(size)/float64(b.Dx()), float64(size)/float64(b.Dy()))
	newW := int(math.Round(float64(b.Dx()) * scale))
	newH := int(math.Round(float64(b.Dy()) * scale))
	padX := (size - newW) / 2
	padY := (size - newH) / 2
	draw.ApproxBiLinear.Scale(dst, image.Rect(padX, padY, padX+newW, padY+newH), img, b, draw.Src, nil)
	return dst, scale, padX, padY
}
