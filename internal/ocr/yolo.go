package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// CharacterDetection is one character box returned by the inference service.
type CharacterDetection struct {
	Character  string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

type characterResponse struct {
	Detections []CharacterDetection `json:"detections"`
}

// YoloEngine sends plate crops to a YOLO character-detection service and joins
// the detected characters left to right.
type YoloEngine struct {
	endpoint  string
	threshold float64
	client    *http.Client
}

func NewYoloEngine(endpoint string, threshold float64, client *http.Client) *YoloEngine {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &YoloEngine{
		endpoint:  strings.TrimRight(endpoint, "/"),
		threshold: threshold,
		client:    client,
	}
}

func (e *YoloEngine) Name() string   { return "YOLO OCR Engine" }
func (e *YoloEngine) Method() Method { return MethodYolo }
func (e *YoloEngine) IsReady() bool  { return e.endpoint != "" }
func (e *YoloEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *YoloEngine) Recognize(ctx context.Context, img image.Image) (Reading, error) {
	if !e.IsReady() {
		return Reading{}, ErrEngineNotReady
	}

	var body bytes.Buffer
	if err := png.Encode(&body, img); err != nil {
		return Reading{}, fmt.Errorf("encode plate: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, &body)
	if err != nil {
		return Reading{}, err
	}
	req.Header.Set("Content-Type", "image/png")

	resp, err := e.client.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("yolo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Reading{}, fmt.Errorf("yolo service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out characterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Reading{}, fmt.Errorf("decode yolo response: %w", err)
	}

	text, conf := JoinCharacters(out.Detections, e.threshold)
	if text == "" {
		return Reading{}, ErrNoText
	}
	return Reading{Text: text, Confidence: conf}, nil
}

// JoinCharacters keeps detections at or above threshold, orders them by X and
// concatenates their classes. The confidence is the mean over kept characters.
func JoinCharacters(dets []CharacterDetection, threshold float64) (string, float64) {
	kept := make([]CharacterDetection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold && d.Character != "" {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return "", 0
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].X < kept[j].X })

	var sb strings.Builder
	var sum float64
	for _, d := range kept {
		sb.WriteString(d.Character)
		sum += d.Confidence
	}
	return sb.String(), sum / float64(len(kept))
}
