package pipeline

import (
	"context"
	"image"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"plate-node/internal/domain/detection"
	"plate-node/internal/ocr"
)

func box(x, y, w, h int) detection.BoundingBox {
	return detection.BoundingBox{X: x, Y: y, Width: w, Height: h}
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b detection.BoundingBox
		want float64
	}{
		{"identical", box(0, 0, 10, 10), box(0, 0, 10, 10), 1},
		{"sixty percent", box(0, 0, 100, 100), box(25, 0, 100, 100), 0.6},
		{"ten percent", box(0, 0, 10, 10), box(8, 0, 10, 12), 0.1},
		{"disjoint", box(0, 0, 10, 10), box(20, 20, 5, 5), 0},
		{"touching", box(0, 0, 10, 10), box(10, 0, 10, 10), 0},
		{"degenerate", box(0, 0, 0, 0), box(0, 0, 0, 0), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IoU(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("IoU = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNonMaxSuppression(t *testing.T) {
	t.Run("overlap above threshold keeps best", func(t *testing.T) {
		got := NonMaxSuppression([]detection.Candidate{
			{Box: box(25, 0, 100, 100), Confidence: 0.8},
			{Box: box(0, 0, 100, 100), Confidence: 0.9},
		}, DefaultIoUThreshold)
		if len(got) != 1 || got[0].Confidence != 0.9 {
			t.Errorf("expected only the 0.9 box, got %+v", got)
		}
	})

	t.Run("low overlap keeps both", func(t *testing.T) {
		got := NonMaxSuppression([]detection.Candidate{
			{Box: box(0, 0, 10, 10), Confidence: 0.9},
			{Box: box(8, 0, 10, 12), Confidence: 0.8},
		}, DefaultIoUThreshold)
		if len(got) != 2 {
			t.Errorf("expected both boxes, got %+v", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := NonMaxSuppression(nil, DefaultIoUThreshold); len(got) != 0 {
			t.Errorf("expected nothing, got %+v", got)
		}
	})
}

func TestNonMaxSuppressionIdempotent(t *testing.T) {
	cands := []detection.Candidate{
		{Box: box(0, 0, 100, 40), Confidence: 0.7},
		{Box: box(5, 2, 100, 40), Confidence: 0.95},
		{Box: box(300, 100, 80, 30), Confidence: 0.6},
		{Box: box(310, 105, 80, 30), Confidence: 0.65},
		{Box: box(600, 0, 50, 20), Confidence: 0.3},
		{Box: box(90, 0, 100, 40), Confidence: 0.5},
	}
	once := NonMaxSuppression(cands, DefaultIoUThreshold)
	twice := NonMaxSuppression(once, DefaultIoUThreshold)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("NMS not idempotent:\n once=%+v\ntwice=%+v", once, twice)
	}
	for i := 1; i < len(once); i++ {
		if once[i-1].Confidence < once[i].Confidence {
			t.Errorf("output not sorted by confidence: %+v", once)
		}
	}
	for i := range once {
		for j := i + 1; j < len(once); j++ {
			if IoU(once[i].Box, once[j].Box) > DefaultIoUThreshold {
				t.Errorf("kept boxes %v and %v overlap", once[i].Box, once[j].Box)
			}
		}
	}
}

func TestClampBox(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 50)
	tests := []struct {
		in, want detection.BoundingBox
	}{
		{box(10, 10, 20, 20), box(10, 10, 20, 20)},
		{box(-10, -5, 30, 20), box(0, 0, 20, 15)},
		{box(90, 40, 30, 30), box(90, 40, 10, 10)},
		{box(200, 200, 10, 10), box(0, 0, 0, 0)},
	}
	for _, tt := range tests {
		if got := ClampBox(tt.in, bounds); got != tt.want {
			t.Errorf("ClampBox(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

type stubCorrector struct {
	calls int
	ret   func(image.Image) image.Image
}

func (s *stubCorrector) Correct(img image.Image) image.Image {
	s.calls++
	if s.ret != nil {
		return s.ret(img)
	}
	return img
}

type stubReader struct {
	results []ocr.Result
	sizes   []image.Rectangle
}

func (s *stubReader) Recognize(_ context.Context, img image.Image) ocr.Result {
	s.sizes = append(s.sizes, img.Bounds())
	res := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return res
}

func TestAssemble(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
	corrector := &stubCorrector{}
	reader := &stubReader{results: []ocr.Result{
		{Success: true, Text: "AB123", Confidence: 0.8},
		{NoText: true, ErrorMessage: "no text recognized"},
		{ErrorMessage: "engine crashed"},
	}}
	fixed := time.Date(2025, 10, 3, 12, 0, 0, 0, time.FixedZone("X", 3600))

	a := NewAssembler(corrector, reader, "node-1", "Gate", zerolog.Nop())
	a.now = func() time.Time { return fixed }

	records := a.Assemble(context.Background(), frame, []detection.Candidate{
		{Box: box(600, 400, 100, 100), Confidence: 0.7},
		{Box: box(10, 10, 120, 40), Confidence: 0.9},
		{Box: box(15, 12, 120, 40), Confidence: 0.85},
		{Box: box(300, 200, 120, 40), Confidence: 0.5},
		{Box: box(1000, 1000, 10, 10), Confidence: 0.95},
	})

	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d: %+v", len(records), records)
	}
	if corrector.calls != 3 {
		t.Errorf("expected 3 corrections, got %d", corrector.calls)
	}

	want := []struct {
		plate string
		conf  float64
		box   detection.BoundingBox
	}{
		{"AB123", 0.9, box(10, 10, 120, 40)},
		{"unknown", 0.7, box(600, 400, 40, 80)},
		{"error", 0.5, box(300, 200, 120, 40)},
	}
	seen := map[uuid.UUID]bool{}
	for i, w := range want {
		r := records[i]
		if r.PlateNumber != w.plate || r.Confidence != w.conf || r.PlateBoundingBox != w.box {
			t.Errorf("record %d = %+v, want %+v", i, r, w)
		}
		if r.NodeID != "node-1" || r.NodeName != "Gate" || r.VehicleType != detection.VehicleCar {
			t.Errorf("record %d has wrong identity fields: %+v", i, r)
		}
		if !r.DetectionTime.Equal(fixed) || r.DetectionTime.Location() != time.UTC {
			t.Errorf("record %d has wrong time %v", i, r.DetectionTime)
		}
		if r.ID == uuid.Nil || seen[r.ID] {
			t.Errorf("record %d has a missing or duplicate id", i)
		}
		seen[r.ID] = true
	}
	if reader.sizes[1] != image.Rect(0, 0, 40, 80) {
		t.Errorf("expected the clamped crop to reach OCR, got %v", reader.sizes[1])
	}
}

func TestAssembleNilCorrectionUsesCrop(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	corrector := &stubCorrector{ret: func(image.Image) image.Image { return nil }}
	reader := &stubReader{results: []ocr.Result{{Success: true, Text: "Z9"}}}

	a := NewAssembler(corrector, reader, "n", "n", zerolog.Nop())
	records := a.Assemble(context.Background(), frame, []detection.Candidate{{Box: box(10, 10, 30, 10), Confidence: 0.5}})
	if len(records) != 1 || records[0].PlateNumber != "Z9" {
		t.Fatalf("unexpected records %+v", records)
	}
	if reader.sizes[0] != image.Rect(0, 0, 30, 10) {
		t.Errorf("expected raw crop size, got %v", reader.sizes[0])
	}
}

func TestBest(t *testing.T) {
	if _, ok := Best(nil); ok {
		t.Error("expected no best record for empty input")
	}
	best, ok := Best([]detection.VehicleDetectionData{
		{PlateNumber: "A", Confidence: 0.4},
		{PlateNumber: "B", Confidence: 0.9},
		{PlateNumber: "C", Confidence: 0.6},
	})
	if !ok || best.PlateNumber != "B" {
		t.Errorf("expected B, got %+v", best)
	}
}
