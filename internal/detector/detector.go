package detector

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	"plate-node/internal/config"
	"plate-node/internal/domain/detection"

	"github.com/rs/zerolog"
)

const (
	TypeEdge   = "edge"
	TypeRemote = "remote"
)

// Detector finds licence plate candidates in a frame.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]detection.Candidate, error)
	Name() string
	Close() error
}

// New builds the detector selected by cfg. A remote detector without an endpoint
// degrades to the edge heuristic.
func New(cfg config.DetectorConfig, confidenceThreshold float64, log zerolog.Logger) (Detector, error) {
	switch cfg.Type {
	case TypeRemote:
		if cfg.Endpoint == "" {
			log.Warn().Msg("remote detector has no endpoint, using edge heuristic")
			return NewEdgeDetector(confidenceThreshold), nil
		}
		return NewRemoteDetector(RemoteOptions{
			Endpoint:            cfg.Endpoint,
			InputSize:           cfg.InputSize,
			ConfidenceThreshold: confidenceThreshold,
			NMSThreshold:        cfg.NMSThreshold,
			Client:              &http.Client{Timeout: 10 * time.Second},
		}), nil
	case TypeEdge, "":
		return NewEdgeDetector(confidenceThreshold), nil
	default:
		return nil, fmt.Errorf("%w: detector type %q", config.ErrInvalidInput, cfg.Type)
	}
}
