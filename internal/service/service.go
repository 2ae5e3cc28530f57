package service

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/google/uuid"

	"plate-node/internal/domain/detection"
	"plate-node/internal/repository"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

type FrameSource interface {
	TryReadFrame(ctx context.Context) (image.Image, bool, error)
}

type PlateDetector interface {
	Detect(ctx context.Context, frame image.Image) ([]detection.Candidate, error)
}

type RecordAssembler interface {
	Assemble(ctx context.Context, frame image.Image, cands []detection.Candidate) []detection.VehicleDetectionData
}

type DetectionSender interface {
	SendDetection(ctx context.Context, det detection.VehicleDetectionData) (bool, error)
}

// Reporter is the hub side of the worker.
type Reporter interface {
	DetectionSender
	RegisterNode(ctx context.Context) error
	SendHeartbeat(ctx context.Context) bool
}

type ImageSaver interface {
	Save(img image.Image, id uuid.UUID, at time.Time) (string, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, det detection.VehicleDetectionData) error
}

type Publisher interface {
	Publish(ctx context.Context, det detection.VehicleDetectionData) error
}

type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]repository.OutboxEntry, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkDead(ctx context.Context, id uuid.UUID, reason string) error
	DeleteSentOlderThan(ctx context.Context, days int) (int64, error)
}

type DetectionStore interface {
	Recent(ctx context.Context, plate *string, limit int) ([]repository.OutboxEntry, error)
	CountPending(ctx context.Context) (int64, error)
}

// sleepCtx waits for d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
