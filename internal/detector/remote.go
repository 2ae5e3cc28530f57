package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"plate-node/internal/domain/detection"
	"plate-node/internal/imaging"
	"plate-node/internal/pipeline"
)

const (
	DefaultInputSize    = 640
	DefaultNMSThreshold = 0.45
)

type RemoteOptions struct {
	Endpoint            string
	InputSize           int
	ConfidenceThreshold float64
	NMSThreshold        float64
	Client              *http.Client
}

// Box is one detection in letterboxed input coordinates, top-left origin.
type Box struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

type boxResponse struct {
	Detections []Box `json:"detections"`
}

// RemoteDetector runs plate detection on a YOLO inference service.
type RemoteDetector struct {
	endpoint     string
	inputSize    int
	threshold    float64
	nmsThreshold float64
	client       *http.Client
}

func NewRemoteDetector(opts RemoteOptions) *RemoteDetector {
	if opts.InputSize <= 0 {
		opts.InputSize = DefaultInputSize
	}
	if opts.NMSThreshold <= 0 {
		opts.NMSThreshold = DefaultNMSThreshold
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteDetector{
		endpoint:     strings.TrimRight(opts.Endpoint, "/"),
		inputSize:    opts.InputSize,
		threshold:    opts.ConfidenceThreshold,
		nmsThreshold: opts.NMSThreshold,
		client:       opts.Client,
	}
}

func (d *RemoteDetector) Name() string { return "remote-yolo" }

func (d *RemoteDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func (d *RemoteDetector) Detect(ctx context.Context, frame image.Image) ([]detection.Candidate, error) {
	input, scale, padX, padY := imaging.Letterbox(frame, d.inputSize)

	var body bytes.Buffer
	if err := jpeg.Encode(&body, input, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out boxResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}

	bounds := frame.Bounds()
	cands := make([]detection.Candidate, 0, len(out.Detections))
	for _, b := range out.Detections {
		if b.Confidence < d.threshold {
			continue
		}
		box := pipeline.ClampBox(Unletterbox(b, scale, padX, padY, bounds.Min), bounds)
		if box.Empty() {
			continue
		}
		cands = append(cands, detection.Candidate{Box: box, Confidence: b.Confidence})
	}
	return pipeline.NonMaxSuppression(cands, d.nmsThreshold), nil
}

// Unletterbox maps a box from letterboxed input space back onto the frame.
func Unletterbox(b Box, scale float64, padX, padY int, origin image.Point) detection.BoundingBox {
	if scale <= 0 {
		scale = 1
	}
	x0 := (b.X - float64(padX)) / scale
	y0 := (b.Y - float64(padY)) / scale
	x1 := (b.X + b.Width - float64(padX)) / scale
	y1 := (b.Y + b.Height - float64(padY)) / scale

	left := int(math.Round(x0))
	top := int(math.Round(y0))
	return detection.BoundingBox{
		X:      origin.X + left,
		Y:      origin.Y + top,
		Width:  int(math.Round(x1)) - left,
		Height: int(math.Round(y1)) - top,
	}
}
