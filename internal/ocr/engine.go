package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"plate-node/internal/domain/detection"
)

var (
	ErrEngineNotReady = errors.New("ocr engine not ready")
	ErrNoText         = errors.New("no text recognized")
	ErrUnknownMethod  = errors.New("unknown ocr method")
)

type Method string

const (
	MethodSimple      Method = "Simple"
	MethodYolo        Method = "Yolo"
	MethodRekognition Method = "Rekognition"
)

// ParseMethod accepts the configured method name. IronOcr is kept as an alias
// for Rekognition so existing node configs keep working.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "simple":
		return MethodSimple, nil
	case "yolo":
		return MethodYolo, nil
	case "rekognition", "ironocr", "cloud":
		return MethodRekognition, nil
	default:
		return MethodSimple, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Reading is the raw output of an engine.
type Reading struct {
	Text       string
	Confidence float64
}

// Result is what callers of the Service see.
type Result struct {
	Text             string  `json:"text"`
	Confidence       float64 `json:"confidence"`
	Success          bool    `json:"success"`
	ErrorMessage     string  `json:"error_message,omitempty"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
	Method           Method  `json:"method"`
	EngineName       string  `json:"engine_name"`
	// NoText is set when the engine ran cleanly but found nothing to read.
	NoText bool `json:"-"`
}

// PlateText returns the recognized text, or the sentinel that describes why
// there is none.
func (r Result) PlateText() string {
	switch {
	case r.Success && r.Text != "":
		return r.Text
	case r.NoText:
		return detection.PlateUnknown
	default:
		return detection.PlateError
	}
}

// Engine recognizes the characters of a single plate crop.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) (Reading, error)
	Name() string
	Method() Method
	IsReady() bool
	Close() error
}
