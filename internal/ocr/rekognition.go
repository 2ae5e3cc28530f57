package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
)

// TextDetector is the part of the Rekognition client the engine uses.
type TextDetector interface {
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

var platePattern = regexp.MustCompile(`^[A-Z0-9]{4,10}$`)

// RekognitionEngine delegates recognition to AWS Rekognition DetectText.
type RekognitionEngine struct {
	client TextDetector
}

func NewRekognitionEngine(client TextDetector) *RekognitionEngine {
	return &RekognitionEngine{client: client}
}

func (e *RekognitionEngine) Name() string   { return "Rekognition OCR Engine" }
func (e *RekognitionEngine) Method() Method { return MethodRekognition }
func (e *RekognitionEngine) IsReady() bool  { return e.client != nil }
func (e *RekognitionEngine) Close() error   { return nil }

func (e *RekognitionEngine) Recognize(ctx context.Context, img image.Image) (Reading, error) {
	if !e.IsReady() {
		return Reading{}, ErrEngineNotReady
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Reading{}, fmt.Errorf("encode plate: %w", err)
	}

	out, err := e.client.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: buf.Bytes()},
	})
	if err != nil {
		return Reading{}, fmt.Errorf("rekognition: %w", err)
	}

	var best Reading
	for _, td := range out.TextDetections {
		if td.Type != types.TextTypesLine && td.Type != types.TextTypesWord {
			continue
		}
		text := NormalizePlate(aws.ToString(td.DetectedText))
		if !platePattern.MatchString(text) {
			continue
		}
		conf := float64(aws.ToFloat32(td.Confidence)) / 100
		if conf > best.Confidence {
			best = Reading{Text: text, Confidence: conf}
		}
	}
	if best.Text == "" {
		return Reading{}, ErrNoText
	}
	return best, nil
}

// NormalizePlate upper-cases s and keeps letters and digits only.
func NormalizePlate(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
