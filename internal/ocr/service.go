package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"plate-node/internal/imaging"
)

type Options struct {
	Method string
	// CharConfidence is the per-character floor for the YOLO engine.
	CharConfidence float64
	YoloEndpoint   string
	HTTPClient     *http.Client
	TextDetector   TextDetector
	// Optimize runs imaging.Optimize on every plate crop before recognition.
	Optimize bool
}

// Service wraps the configured engine, timing each call and turning engine
// failures into unsuccessful results.
type Service struct {
	engine   Engine
	optimize bool
	log      zerolog.Logger
}

func NewService(opts Options, log zerolog.Logger) *Service {
	return &Service{engine: newEngine(opts, log), optimize: opts.Optimize, log: log}
}

// NewServiceWithEngine is used when the engine is built elsewhere.
func NewServiceWithEngine(engine Engine, log zerolog.Logger) *Service {
	return &Service{engine: engine, log: log}
}

func newEngine(opts Options, log zerolog.Logger) Engine {
	method, err := ParseMethod(opts.Method)
	if err != nil {
		log.Warn().Err(err).Msg("falling back to simple ocr engine")
		return NewSimpleEngine()
	}

	var engine Engine
	switch method {
	case MethodYolo:
		engine = NewYoloEngine(opts.YoloEndpoint, opts.CharConfidence, opts.HTTPClient)
	case MethodRekognition:
		engine = NewRekognitionEngine(opts.TextDetector)
	default:
		return NewSimpleEngine()
	}

	if !engine.IsReady() {
		log.Warn().
			Str("engine", engine.Name()).
			Msg("ocr engine not ready, falling back to simple ocr engine")
		_ = engine.Close()
		return NewSimpleEngine()
	}
	log.Info().Str("engine", engine.Name()).Msg("ocr engine ready")
	return engine
}

func (s *Service) Engine() Engine { return s.engine }

func (s *Service) Recognize(ctx context.Context, img image.Image) Result {
	res := Result{Method: s.engine.Method(), EngineName: s.engine.Name()}
	if img == nil {
		res.ErrorMessage = "plate image is nil"
		return res
	}

	if s.log.GetLevel() <= zerolog.DebugLevel {
		st := imaging.ComputeStats(img)
		s.log.Debug().
			Int("width", st.Width).
			Int("height", st.Height).
			Float64("mean_brightness", st.MeanBrightness).
			Float64("std_dev", st.StandardDeviation).
			Float64("aspect_ratio", st.AspectRatio).
			Msg("plate crop")
	}

	start := time.Now()
	if s.optimize {
		img = imaging.Optimize(img)
	}
	reading, err := s.recognize(ctx, img)
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		res.ErrorMessage = err.Error()
		res.NoText = errors.Is(err, ErrNoText)
		s.log.Debug().Err(err).Str("engine", res.EngineName).Msg("ocr failed")
		return res
	}

	res.Text = reading.Text
	res.Confidence = reading.Confidence
	res.Success = true
	s.log.Debug().
		Str("engine", res.EngineName).
		Str("text", res.Text).
		Float64("confidence", res.Confidence).
		Int64("processing_time_ms", res.ProcessingTimeMs).
		Msg("ocr result")
	return res
}

func (s *Service) recognize(ctx context.Context, img image.Image) (reading Reading, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ocr engine panic: %v", r)
		}
	}()
	return s.engine.Recognize(ctx, img)
}

func (s *Service) Close() error {
	return s.engine.Close()
}
