package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DetectionService answers queries about detections kept in the outbox.
type DetectionService struct {
	store DetectionStore
	log   zerolog.Logger
}

func NewDetectionService(store DetectionStore, log zerolog.Logger) *DetectionService {
	return &DetectionService{store: store, log: log}
}

func (s *DetectionService) FindDetections(ctx context.Context, plateQuery *string, limit int) ([]DetectionInfo, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("%w: detection history is disabled", ErrNotFound)
	}

	var plate *string
	if plateQuery != nil {
		p := strings.ToUpper(strings.TrimSpace(*plateQuery))
		if p != "" {
			plate = &p
		}
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		return nil, fmt.Errorf("%w: limit must not exceed 100", ErrInvalidInput)
	}

	entries, err := s.store.Recent(ctx, plate, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find detections: %w", err)
	}

	result := make([]DetectionInfo, 0, len(entries))
	for _, e := range entries {
		info := DetectionInfo{
			ID:            e.ID,
			PlateNumber:   e.PlateNumber,
			DetectionTime: e.DetectionTime,
			IsViolation:   e.IsViolation,
			Status:        e.Status,
			Attempts:      e.Attempts,
			LastError:     e.LastError,
			SentAt:        e.SentAt,
		}
		if det, err := e.Detection(); err == nil {
			info.Speed = det.Speed
			info.Confidence = det.Confidence
		} else {
			s.log.Debug().Err(err).Str("entry_id", e.ID.String()).Msg("skipping payload of outbox entry")
		}
		result = append(result, info)
	}
	return result, nil
}

func (s *DetectionService) PendingCount(ctx context.Context) (int64, error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("%w: detection history is disabled", ErrNotFound)
	}
	return s.store.CountPending(ctx)
}

type DetectionInfo struct {
	ID            uuid.UUID  `json:"id"`
	PlateNumber   string     `json:"plate_number"`
	DetectionTime time.Time  `json:"detection_time"`
	Confidence    float64    `json:"confidence"`
	Speed         float64    `json:"speed"`
	IsViolation   bool       `json:"is_speed_violation"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     *string    `json:"last_error,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
}
