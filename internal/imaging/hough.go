package imaging

import (
	"image"
	"math"
	"math/rand"
)

// Segment is a detected line segment in pixel coordinates.
type Segment struct {
	P1 image.Point
	P2 image.Point
}

func (s Segment) Length() float64 {
	dx := float64(s.P2.X - s.P1.X)
	dy := float64(s.P2.Y - s.P1.Y)
	return math.Hypot(dx, dy)
}

// HoughParams configures one probabilistic Hough pass.
type HoughParams struct {
	Rho           float64
	Theta         float64
	Threshold     int
	MinLineLength float64
	MaxLineGap    int
}

// houghSeed keeps the point visiting order reproducible between runs.
const houghSeed = 0x5eed

// HoughLinesP runs the progressive probabilistic Hough transform over a binary
// edge map: points are visited in a shuffled order, each vote may trigger a walk
// along the winning direction, and the pixels of accepted segments are withdrawn
// from the accumulator.
func HoughLinesP(edges *image.Gray, p HoughParams) []Segment {
	w, h := edges.Rect.Dx(), edges.Rect.Dy()
	if w == 0 || h == 0 || p.Rho <= 0 || p.Theta <= 0 {
		return nil
	}

	numAngle := int(math.Round(math.Pi / p.Theta))
	numRho := int(math.Round(float64((w+h)*2+1) / p.Rho))
	if numAngle < 1 || numRho < 1 {
		return nil
	}
	cosTab := make([]float64, numAngle)
	sinTab := make([]float64, numAngle)
	for n := 0; n < numAngle; n++ {
		a := float64(n) * p.Theta
		cosTab[n] = math.Cos(a) / p.Rho
		sinTab[n] = math.Sin(a) / p.Rho
	}

	accum := make([]int, numAngle*numRho)
	mask := make([]bool, w*h)
	voted := make([]bool, w*h)
	var points []image.Point
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if edges.Pix[y*edges.Stride+x] != 0 {
				mask[y*w+x] = true
				points = append(points, image.Pt(x, y))
			}
		}
	}

	rng := rand.New(rand.NewSource(houghSeed))
	rng.Shuffle(len(points), func(i, j int) { points[i], points[j] = points[j], points[i] })

	rhoIndex := func(n, x, y int) int {
		r := int(math.Round(float64(x)*cosTab[n] + float64(y)*sinTab[n]))
		return n*numRho + r + (numRho-1)/2
	}

	var lines []Segment
	for _, pt := range points {
		if !mask[pt.Y*w+pt.X] {
			continue
		}

		maxVal := p.Threshold - 1
		maxN := 0
		for n := 0; n < numAngle; n++ {
			idx := rhoIndex(n, pt.X, pt.Y)
			accum[idx]++
			if accum[idx] > maxVal {
				maxVal = accum[idx]
				maxN = n
			}
		}
		voted[pt.Y*w+pt.X] = true
		if maxVal < p.Threshold {
			continue
		}

		// Direction of the line whose normal won the vote.
		dirX := -sinTab[maxN] * p.Rho
		dirY := cosTab[maxN] * p.Rho
		var stepX, stepY float64
		if math.Abs(dirX) > math.Abs(dirY) {
			stepX = math.Copysign(1, dirX)
			stepY = dirY / math.Abs(dirX)
		} else {
			stepY = math.Copysign(1, dirY)
			stepX = dirX / math.Abs(dirY)
		}

		var ends [2]image.Point
		for k := 0; k < 2; k++ {
			sx, sy := stepX, stepY
			if k == 1 {
				sx, sy = -sx, -sy
			}
			ends[k] = pt
			gap := 0
			fx, fy := float64(pt.X)+0.5, float64(pt.Y)+0.5
			for {
				x, y := int(math.Floor(fx)), int(math.Floor(fy))
				if x < 0 || y < 0 || x >= w || y >= h {
					break
				}
				if mask[y*w+x] {
					gap = 0
					ends[k] = image.Pt(x, y)
				} else {
					gap++
					if gap > p.MaxLineGap {
						break
					}
				}
				fx += sx
				fy += sy
			}
		}

		seg := Segment{P1: ends[1], P2: ends[0]}
		good := math.Abs(float64(ends[1].X-ends[0].X)) >= p.MinLineLength ||
			math.Abs(float64(ends[1].Y-ends[0].Y)) >= p.MinLineLength

		for k := 0; k < 2; k++ {
			sx, sy := stepX, stepY
			if k == 1 {
				sx, sy = -sx, -sy
			}
			fx, fy := float64(pt.X)+0.5, float64(pt.Y)+0.5
			for {
				x, y := int(math.Floor(fx)), int(math.Floor(fy))
				if x < 0 || y < 0 || x >= w || y >= h {
					break
				}
				i := y*w + x
				if mask[i] {
					if good && voted[i] {
						for n := 0; n < numAngle; n++ {
							accum[rhoIndex(n, x, y)]--
						}
					}
					mask[i] = false
				}
				if x == ends[k].X && y == ends[k].Y {
					break
				}
				fx += sx
				fy += sy
			}
		}

		if good {
			lines = append(lines, seg)
		}
	}
	return lines
}
