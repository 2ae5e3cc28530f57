package detector

import (
	"context"
	"image"

	"plate-node/internal/domain/detection"
	"plate-node/internal/imaging"
	"plate-node/internal/pipeline"
)

const (
	edgeGradient   = 60
	minRowEdges    = 6
	rowFraction    = 0.5
	minBandHeight  = 8
	maxColumnGap   = 12
	minAspectRatio = 2.0
	maxAspectRatio = 8.0
	densityGain    = 2.0
)

// EdgeDetector is an offline plate finder. Plate characters produce rows with
// many strong vertical edges; consecutive dense rows form a band whose edge
// extent becomes the candidate box.
type EdgeDetector struct {
	threshold float64
}

func NewEdgeDetector(confidenceThreshold float64) *EdgeDetector {
	return &EdgeDetector{threshold: confidenceThreshold}
}

func (d *EdgeDetector) Name() string  { return "edge-heuristic" }
func (d *EdgeDetector) Close() error { return nil }

func (d *EdgeDetector) Detect(ctx context.Context, frame image.Image) ([]detection.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	origin := frame.Bounds().Min
	g := imaging.ToGray(frame)
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w < 3 || h < minBandHeight {
		return nil, nil
	}

	edges := make([]bool, w*h)
	rowCount := make([]int, h)
	maxRow := 0
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for x := 1; x < w-1; x++ {
			diff := int(row[x+1]) - int(row[x-1])
			if diff < 0 {
				diff = -diff
			}
			if diff >= edgeGradient {
				edges[y*w+x] = true
				rowCount[y]++
			}
		}
		maxRow = max(maxRow, rowCount[y])
	}
	if maxRow < minRowEdges {
		return nil, nil
	}

	limit := max(minRowEdges, int(float64(maxRow)*rowFraction))
	var cands []detection.Candidate
	for y := 0; y < h; {
		if rowCount[y] < limit {
			y++
			continue
		}
		top := y
		for y < h && rowCount[y] >= limit {
			y++
		}
		if y-top < minBandHeight {
			continue
		}
		if c, ok := bandCandidate(edges, w, top, y); ok && c.Confidence >= d.threshold {
			c.Box.X += origin.X
			c.Box.Y += origin.Y
			cands = append(cands, c)
		}
	}
	return pipeline.NonMaxSuppression(cands, pipeline.DefaultIoUThreshold), nil
}

// bandCandidate returns the widest run of edge columns in rows [top, bottom),
// tolerating gaps between characters.
func bandCandidate(edges []bool, w, top, bottom int) (detection.Candidate, bool) {
	hasEdge := make([]bool, w)
	for y := top; y < bottom; y++ {
		for x := 0; x < w; x++ {
			if edges[y*w+x] {
				hasEdge[x] = true
			}
		}
	}

	bestStart, bestEnd := -1, -1
	start, last := -1, -1
	for x := 0; x < w; x++ {
		if !hasEdge[x] {
			continue
		}
		if start < 0 || x-last > maxColumnGap {
			start = x
		}
		last = x
		if bestStart < 0 || last-start > bestEnd-bestStart {
			bestStart, bestEnd = start, last
		}
	}
	if bestStart < 0 {
		return detection.Candidate{}, false
	}

	bw, bh := bestEnd-bestStart+1, bottom-top
	ratio := float64(bw) / float64(bh)
	if ratio < minAspectRatio || ratio > maxAspectRatio {
		return detection.Candidate{}, false
	}

	count := 0
	for y := top; y < bottom; y++ {
		for x := bestStart; x <= bestEnd; x++ {
			if edges[y*w+x] {
				count++
			}
		}
	}
	density := float64(count) / float64(bw*bh)
	return detection.Candidate{
		Box:        detection.BoundingBox{X: bestStart, Y: top, Width: bw, Height: bh},
		Confidence: min(1, density*densityGain),
	}, true
}
