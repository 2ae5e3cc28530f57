package correction

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"plate-node/internal/domain/detection"
	"plate-node/internal/imaging"
)

var ErrNoCorrection = errors.New("no correction possible")

const (
	cannyLow  = 30
	cannyHigh = 100

	// Rotation is skipped below these absolute angles (degrees).
	minAngleImage = 1.0
	minAngleFile  = 0.5
)

// houghAttempts are tried in order until one of them yields a segment.
var houghAttempts = []imaging.HoughParams{
	{Rho: 1, Theta: math.Pi / 180, Threshold: 15, MinLineLength: 50, MaxLineGap: 5},
	{Rho: 1, Theta: math.Pi / 180, Threshold: 10, MinLineLength: 30, MaxLineGap: 10},
	{Rho: 1, Theta: math.Pi / 180, Threshold: 5, MinLineLength: 20, MaxLineGap: 15},
}

// Corrector deskews plate crops using the orientation of their dominant edge.
type Corrector struct {
	log zerolog.Logger
}

func NewCorrector(log zerolog.Logger) *Corrector {
	return &Corrector{log: log}
}

// Correct never fails: when no correction is possible the input is returned.
func (c *Corrector) Correct(img image.Image) image.Image {
	out, err := c.correct(img, minAngleImage)
	if err != nil {
		c.log.Debug().Err(err).Msg("plate correction skipped")
		return img
	}
	return out
}

// CorrectFile loads the frame stored at path, crops box out of it and corrects
// the crop. It returns ErrNoCorrection when any step fails; callers then fall
// back to the raw crop.
func (c *Corrector) CorrectFile(path string, box detection.BoundingBox) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCorrection, err)
	}
	defer f.Close()

	frame, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrNoCorrection, path, err)
	}

	r := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height).Intersect(frame.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("%w: box %s outside frame", ErrNoCorrection, box)
	}

	out, err := c.correct(imaging.Crop(frame, r), minAngleFile)
	if err != nil {
		c.log.Debug().Err(err).Str("path", path).Msg("plate correction failed")
		return nil, err
	}
	return out, nil
}

func (c *Corrector) correct(img image.Image, minAngle float64) (out image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrNoCorrection, r)
		}
	}()

	angle, seg, err := EstimateAngle(img)
	if err != nil {
		return nil, err
	}

	rotated, didRotate := img, false
	if math.Abs(angle) >= minAngle {
		rotated, didRotate = imaging.Rotate(img, -angle), true
	}

	c.log.Debug().
		Float64("angle", angle).
		Float64("segment_length", seg.Length()).
		Bool("rotated", didRotate).
		Msg("plate corrected")

	return imaging.CropBand(rotated), nil
}

// EstimateAngle finds the longest line segment in img and returns its angle in
// degrees.
func EstimateAngle(img image.Image) (float64, imaging.Segment, error) {
	b := img.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		return 0, imaging.Segment{}, fmt.Errorf("%w: image too small (%dx%d)", ErrNoCorrection, b.Dx(), b.Dy())
	}

	edges := imaging.Canny(imaging.GaussianBlur3(imaging.ToGray(img)), cannyLow, cannyHigh)

	var lines []imaging.Segment
	for _, params := range houghAttempts {
		lines = imaging.HoughLinesP(edges, params)
		if len(lines) > 0 {
			break
		}
	}
	if len(lines) == 0 {
		return 0, imaging.Segment{}, fmt.Errorf("%w: no lines found", ErrNoCorrection)
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Length() < lines[j].Length() })
	longest := lines[len(lines)-1]
	return LineAngle(longest), longest, nil
}

// LineAngle is atan(dy/dx) in degrees; near-vertical segments report 0.
func LineAngle(s imaging.Segment) float64 {
	dx := float64(s.P2.X - s.P1.X)
	dy := float64(s.P2.Y - s.P1.Y)
	if math.Abs(dx) < 0.001 {
		return 0
	}
	return math.Atan(dy/dx) * 180 / math.Pi
}
