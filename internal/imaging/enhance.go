package imaging

import (
	"image"
	"math"
)

// Stats summarises the brightness distribution of an image.
type Stats struct {
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	MeanBrightness    float64 `json:"mean_brightness"`
	StandardDeviation float64 `json:"standard_deviation"`
	AspectRatio       float64 `json:"aspect_ratio"`
}

func ComputeStats(img image.Image) Stats {
	g := ToGray(img)
	w, h := g.Rect.Dx(), g.Rect.Dy()
	st := Stats{Width: w, Height: h}
	if w == 0 || h == 0 {
		return st
	}
	st.AspectRatio = float64(w) / float64(h)

	var sum, sq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(g.Pix[y*g.Stride+x])
			sum += v
			sq += v * v
		}
	}
	n := float64(w * h)
	st.MeanBrightness = sum / n
	st.StandardDeviation = math.Sqrt(math.Max(0, sq/n-st.MeanBrightness*st.MeanBrightness))
	return st
}

func histogram(g *image.Gray) [256]int {
	var hist [256]int
	w, h := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[g.Pix[y*g.Stride+x]]++
		}
	}
	return hist
}

// EqualizeHist spreads the grey levels over the full range.
func EqualizeHist(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	total := w * h
	if total == 0 {
		return dst
	}

	hist := histogram(src)
	var lut [256]uint8
	cdf, cdfMin := 0, 0
	for v := 0; v < 256; v++ {
		if hist[v] > 0 && cdfMin == 0 {
			cdfMin = hist[v]
		}
	}
	if cdfMin == total {
		copy(dst.Pix, src.Pix)
		return dst
	}
	for v := 0; v < 256; v++ {
		cdf += hist[v]
		lut[v] = clampByte(float64(cdf-cdfMin) * 255 / float64(total-cdfMin))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Pix[y*dst.Stride+x] = lut[src.Pix[y*src.Stride+x]]
		}
	}
	return dst
}

// OtsuThreshold returns the grey level that best separates the two classes of
// the histogram.
func OtsuThreshold(g *image.Gray) uint8 {
	hist := histogram(g)
	total := g.Rect.Dx() * g.Rect.Dy()
	if total == 0 {
		return 128
	}

	var sumAll float64
	for v := 0; v < 256; v++ {
		sumAll += float64(v * hist[v])
	}

	var sumB, best float64
	wB := 0
	threshold := 0
	for v := 0; v < 256; v++ {
		wB += hist[v]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(v * hist[v])
		mB := sumB / float64(wB)
		mF := (sumAll - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = v
		}
	}
	return uint8(threshold)
}

// Binarize maps pixels above t to 255 and the rest to 0.
func Binarize(src *image.Gray, t uint8) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if src.Pix[y*src.Stride+x] > t {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

// StretchContrast maps the darkest pixel to 0 and the brightest to 255.
func StretchContrast(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	lo, hi := 255, 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := int(src.Pix[y*src.Stride+x])
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	if hi <= lo {
		copy(dst.Pix, src.Pix)
		return dst
	}
	scale := 255 / float64(hi-lo)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Pix[y*dst.Stride+x] = clampByte(float64(int(src.Pix[y*src.Stride+x])-lo) * scale)
		}
	}
	return dst
}

// Sharpen applies the 4-neighbour unsharp kernel (centre 5, cross -1).
func Sharpen(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 5*pixel(src, x, y) - pixel(src, x-1, y) - pixel(src, x+1, y) - pixel(src, x, y-1) - pixel(src, x, y+1)
			dst.Pix[y*dst.Stride+x] = clampByte(float64(v))
		}
	}
	return dst
}

// AdjustBrightnessContrast computes alpha*p + beta with saturation.
func AdjustBrightnessContrast(src *image.Gray, alpha, beta float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Pix[y*dst.Stride+x] = clampByte(alpha*float64(src.Pix[y*src.Stride+x]) + beta)
		}
	}
	return dst
}

// Optimize prepares a plate crop for recognition: grey, denoise, stretch,
// sharpen and a mild brightness/contrast lift.
func Optimize(img image.Image) *image.Gray {
	g := GaussianBlur3(ToGray(img))
	g = StretchContrast(g)
	g = Sharpen(g)
	return AdjustBrightnessContrast(g, 1.2, 10)
}
