package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// renderPlate draws text in basicfont, one glyph every 10 pixels, dark on light.
func renderPlate(text string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 10*len(text)+10, 24))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for i, r := range text {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(color.Black),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(5+10*i, 17),
		}
		d.DrawString(string(r))
	}
	return img
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in   string
		want Method
		err  bool
	}{
		{"Simple", MethodSimple, false},
		{"", MethodSimple, false},
		{"YOLO", MethodYolo, false},
		{"IronOcr", MethodRekognition, false},
		{"rekognition", MethodRekognition, false},
		{"tesseract", MethodSimple, true},
	}
	for _, tt := range tests {
		got, err := ParseMethod(tt.in)
		if got != tt.want || (err != nil) != tt.err {
			t.Errorf("ParseMethod(%q) = %v, %v", tt.in, got, err)
		}
		if tt.err && !errors.Is(err, ErrUnknownMethod) {
			t.Errorf("expected ErrUnknownMethod, got %v", err)
		}
	}
}

func TestSimpleEngineReadsRenderedPlate(t *testing.T) {
	e := NewSimpleEngine()
	reading, err := e.Recognize(context.Background(), renderPlate("AB123"))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if reading.Text != "AB123" {
		t.Errorf("expected AB123, got %q", reading.Text)
	}
	if reading.Confidence < 0.99 {
		t.Errorf("expected near-perfect confidence, got %v", reading.Confidence)
	}
}

func TestSimpleEngineInvertedPlate(t *testing.T) {
	src := renderPlate("7KX")
	b := src.Bounds()
	inv := image.NewRGBA(b)
	for i := range src.Pix {
		if i%4 == 3 {
			inv.Pix[i] = 255
			continue
		}
		inv.Pix[i] = 255 - src.Pix[i]
	}
	reading, err := NewSimpleEngine().Recognize(context.Background(), inv)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if reading.Text != "7KX" {
		t.Errorf("expected 7KX, got %q", reading.Text)
	}
}

func TestSimpleEngineBlankImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 60, 20))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if _, err := NewSimpleEngine().Recognize(context.Background(), img); !errors.Is(err, ErrNoText) {
		t.Errorf("expected ErrNoText, got %v", err)
	}
}

func TestJoinCharacters(t *testing.T) {
	dets := []CharacterDetection{
		{Character: "3", Confidence: 0.9, X: 40},
		{Character: "A", Confidence: 0.8, X: 0},
		{Character: "?", Confidence: 0.2, X: 20},
		{Character: "1", Confidence: 1.0, X: 10},
	}
	text, conf := JoinCharacters(dets, 0.5)
	if text != "A13" {
		t.Errorf("expected A13, got %q", text)
	}
	if conf < 0.899 || conf > 0.901 {
		t.Errorf("expected mean confidence 0.9, got %v", conf)
	}
	if text, _ := JoinCharacters(nil, 0.5); text != "" {
		t.Errorf("expected empty text, got %q", text)
	}
}

func TestYoloEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "image/png" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(characterResponse{Detections: []CharacterDetection{
			{Character: "B", Confidence: 0.9, X: 12},
			{Character: "7", Confidence: 0.7, X: 2},
		}})
	}))
	defer srv.Close()

	e := NewYoloEngine(srv.URL, 0.5, srv.Client())
	if !e.IsReady() {
		t.Fatal("expected engine with endpoint to be ready")
	}
	reading, err := e.Recognize(context.Background(), renderPlate("X"))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if reading.Text != "7B" {
		t.Errorf("expected 7B, got %q", reading.Text)
	}
}

func TestYoloEngineServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewYoloEngine(srv.URL, 0.5, srv.Client()).Recognize(context.Background(), renderPlate("X"))
	if err == nil {
		t.Fatal("expected an error for a 503 response")
	}
}

type fakeTextDetector struct {
	out *rekognition.DetectTextOutput
	err error
}

func (f *fakeTextDetector) DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error) {
	if params.Image == nil || len(params.Image.Bytes) == 0 {
		return nil, errors.New("missing image bytes")
	}
	return f.out, f.err
}

func TestRekognitionEngine(t *testing.T) {
	fake := &fakeTextDetector{out: &rekognition.DetectTextOutput{TextDetections: []types.TextDetection{
		{Type: types.TextTypesLine, DetectedText: aws.String("12 ab-345"), Confidence: aws.Float32(88)},
		{Type: types.TextTypesLine, DetectedText: aws.String("IRAN"), Confidence: aws.Float32(99)},
		{Type: types.TextTypesWord, DetectedText: aws.String("x"), Confidence: aws.Float32(100)},
	}}}

	reading, err := NewRekognitionEngine(fake).Recognize(context.Background(), renderPlate("X"))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	// IRAN matches the pattern too and has the higher confidence.
	if reading.Text != "IRAN" {
		t.Errorf("expected IRAN, got %q", reading.Text)
	}

	fake.out.TextDetections = fake.out.TextDetections[:1]
	reading, err = NewRekognitionEngine(fake).Recognize(context.Background(), renderPlate("X"))
	if err != nil || reading.Text != "12AB345" {
		t.Errorf("expected 12AB345, got %q (%v)", reading.Text, err)
	}
	if reading.Confidence < 0.879 || reading.Confidence > 0.881 {
		t.Errorf("expected confidence 0.88, got %v", reading.Confidence)
	}
}

func TestServiceFallsBackToSimple(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"yolo without endpoint", Options{Method: "Yolo"}},
		{"rekognition without client", Options{Method: "IronOcr"}},
		{"unknown method", Options{Method: "tesseract"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(tt.opts, zerolog.Nop())
			if s.Engine().Method() != MethodSimple {
				t.Errorf("expected simple fallback, got %v", s.Engine().Method())
			}
		})
	}
}

type failingEngine struct{ *SimpleEngine }

func (failingEngine) Recognize(context.Context, image.Image) (Reading, error) {
	return Reading{}, errors.New("boom")
}

func TestServiceResult(t *testing.T) {
	s := NewService(Options{Method: "Simple"}, zerolog.Nop())
	res := s.Recognize(context.Background(), renderPlate("AB123"))
	if !res.Success || res.Text != "AB123" || res.Method != MethodSimple {
		t.Errorf("unexpected result %+v", res)
	}
	if res.ProcessingTimeMs < 0 {
		t.Errorf("unexpected processing time %d", res.ProcessingTimeMs)
	}

	failing := NewServiceWithEngine(failingEngine{NewSimpleEngine()}, zerolog.Nop())
	res = failing.Recognize(context.Background(), renderPlate("A"))
	if res.Success || res.ErrorMessage != "boom" {
		t.Errorf("expected failed result with message, got %+v", res)
	}

	res = s.Recognize(context.Background(), nil)
	if res.Success || res.ErrorMessage == "" {
		t.Errorf("expected failure for nil image, got %+v", res)
	}
}

type capturingEngine struct {
	*SimpleEngine
	got image.Image
}

func (e *capturingEngine) Recognize(_ context.Context, img image.Image) (Reading, error) {
	e.got = img
	return Reading{Text: "AB123", Confidence: 0.9}, nil
}

func TestServiceOptimizesCrop(t *testing.T) {
	tests := []struct {
		name     string
		optimize bool
	}{
		{"raw crop", false},
		{"optimized crop", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &capturingEngine{SimpleEngine: NewSimpleEngine()}
			s := NewServiceWithEngine(engine, zerolog.Nop())
			s.optimize = tt.optimize

			crop := renderPlate("AB123")
			s.Recognize(context.Background(), crop)

			if !tt.optimize {
				if engine.got != image.Image(crop) {
					t.Error("raw crop should reach the engine unchanged")
				}
				return
			}
			g, ok := engine.got.(*image.Gray)
			if !ok {
				t.Fatalf("expected *image.Gray, got %T", engine.got)
			}
			lo := 255
			for _, v := range g.Pix {
				lo = min(lo, int(v))
			}
			// Optimize lifts the stretched range by beta=10.
			if lo != 10 {
				t.Errorf("darkest pixel %d, want 10", lo)
			}
		})
	}
}

func TestServiceLogsCropStats(t *testing.T) {
	var buf strings.Builder
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)
	s := NewService(Options{Method: "Simple"}, log)
	s.Recognize(context.Background(), renderPlate("AB123"))

	out := buf.String()
	if !strings.Contains(out, `"message":"plate crop"`) || !strings.Contains(out, `"width":60`) {
		t.Errorf("crop stats not logged: %s", out)
	}
}

func TestPlateText(t *testing.T) {
	tests := []struct {
		res  Result
		want string
	}{
		{Result{Success: true, Text: "AB123"}, "AB123"},
		{Result{NoText: true}, "unknown"},
		{Result{ErrorMessage: "timeout"}, "error"},
		{Result{Success: true}, "error"},
	}
	for _, tt := range tests {
		if got := tt.res.PlateText(); got != tt.want {
			t.Errorf("PlateText(%+v) = %q, want %q", tt.res, got, tt.want)
		}
	}

	s := NewService(Options{}, zerolog.Nop())
	blank := image.NewRGBA(image.Rect(0, 0, 40, 20))
	draw.Draw(blank, blank.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if got := s.Recognize(context.Background(), blank).PlateText(); got != "unknown" {
		t.Errorf("expected unknown for a blank plate, got %q", got)
	}
}
