package pipeline

import (
	"image"
	"sort"

	"plate-node/internal/domain/detection"
)

// DefaultIoUThreshold is the overlap above which a lower-confidence box is
// considered a duplicate of a kept one.
const DefaultIoUThreshold = 0.5

// IoU returns intersection over union of two boxes, 0 when they do not overlap.
func IoU(a, b detection.BoundingBox) float64 {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.X+a.Width, b.X+b.Width)
	y2 := min(a.Y+a.Height, b.Y+b.Height)

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// NonMaxSuppression keeps the most confident box of every overlapping group.
// The result is ordered by confidence, highest first; the input is not modified.
func NonMaxSuppression(cands []detection.Candidate, threshold float64) []detection.Candidate {
	sorted := make([]detection.Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	kept := make([]detection.Candidate, 0, len(sorted))
	for _, c := range sorted {
		suppressed := false
		for _, k := range kept {
			if IoU(c.Box, k.Box) > threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}

// ClampBox intersects b with the frame bounds. The result may be empty.
func ClampBox(b detection.BoundingBox, bounds image.Rectangle) detection.BoundingBox {
	r := image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height).Intersect(bounds)
	return detection.BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}
