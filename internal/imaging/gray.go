package imaging

import (
	"image"
	"image/color"
	"math"
)

// ToGray converts img to a zero-origin single channel image. A zero-origin
// *image.Gray is returned as is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			g.Pix[y*g.Stride+x] = c.Y
		}
	}
	return g
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}

// pixel reads g with replicated borders.
func pixel(g *image.Gray, x, y int) int {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	x = clampInt(x, 0, w-1)
	y = clampInt(y, 0, h-1)
	return int(g.Pix[y*g.Stride+x])
}

// GaussianBlur3 applies the 3x3 Gaussian kernel (1 2 1 separable, sigma derived
// from the kernel size).
func GaussianBlur3(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	tmp := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tmp[y*w+x] = pixel(src, x-1, y) + 2*pixel(src, x, y) + pixel(src, x+1, y)
		}
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		up := clampInt(y-1, 0, h-1)
		down := clampInt(y+1, 0, h-1)
		for x := 0; x < w; x++ {
			sum := tmp[up*w+x] + 2*tmp[y*w+x] + tmp[down*w+x]
			dst.Pix[y*dst.Stride+x] = uint8((sum + 8) / 16)
		}
	}
	return dst
}

// Canny returns a binary edge map (255 = edge) using Sobel gradients with the L1
// norm, non-maximum suppression and hysteresis between low and high.
func Canny(src *image.Gray, low, high float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w < 3 || h < 3 {
		return dst
	}

	mag := make([]float64, w*h)
	dir := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := -pixel(src, x-1, y-1) - 2*pixel(src, x-1, y) - pixel(src, x-1, y+1) +
				pixel(src, x+1, y-1) + 2*pixel(src, x+1, y) + pixel(src, x+1, y+1)
			gy := -pixel(src, x-1, y-1) - 2*pixel(src, x, y-1) - pixel(src, x+1, y-1) +
				pixel(src, x-1, y+1) + 2*pixel(src, x, y+1) + pixel(src, x+1, y+1)
			mag[y*w+x] = math.Abs(float64(gx)) + math.Abs(float64(gy))
			dir[y*w+x] = quantizeDirection(float64(gx), float64(gy))
		}
	}

	const (
		none = iota
		weak
		strong
	)
	state := make([]uint8, w*h)
	var stack []int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			var a, b float64
			switch dir[i] {
			case 0:
				a, b = mag[i-1], mag[i+1]
			case 45:
				a, b = mag[i-w-1], mag[i+w+1]
			case 90:
				a, b = mag[i-w], mag[i+w]
			default:
				a, b = mag[i-w+1], mag[i+w-1]
			}
			if m < a || m <= b {
				continue
			}
			if m > high {
				state[i] = strong
				stack = append(stack, i)
			} else {
				state[i] = weak
			}
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		dst.Pix[(i/w)*dst.Stride+i%w] = 255
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] == weak {
					state[j] = strong
					stack = append(stack, j)
				}
			}
		}
	}
	return dst
}

// quantizeDirection maps a gradient to 0, 45, 90 or 135 degrees.
func quantizeDirection(gx, gy float64) uint8 {
	angle := math.Atan2(gy, gx) * 180 / math.Pi
	if angle < 0 {
		angle += 180
	}
	switch {
	case angle < 22.5 || angle >= 157.5:
		return 0
	case angle < 67.5:
		return 45
	case angle < 112.5:
		return 90
	default:
		return 135
	}
}
