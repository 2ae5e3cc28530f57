package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"plate-node/internal/domain/detection"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusDead    = "dead"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// OutboxEntry is a detection that has to reach the hub at least once.
type OutboxEntry struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	NodeID        string         `gorm:"not null"`
	PlateNumber   string         `gorm:"not null"`
	DetectionTime time.Time      `gorm:"not null"`
	IsViolation   bool           `gorm:"column:is_violation;not null"`
	Payload       datatypes.JSON `gorm:"type:jsonb;not null"`
	Status        string         `gorm:"not null"`
	Attempts      int            `gorm:"not null"`
	LastError     *string
	CreatedAt     time.Time
	SentAt        *time.Time
}

func (OutboxEntry) TableName() string {
	return "detection_outbox"
}

func NewOutboxEntry(det detection.VehicleDetectionData) (OutboxEntry, error) {
	payload, err := json.Marshal(det)
	if err != nil {
		return OutboxEntry{}, err
	}
	return OutboxEntry{
		ID:            det.ID,
		NodeID:        det.NodeID,
		PlateNumber:   det.PlateNumber,
		DetectionTime: det.DetectionTime,
		IsViolation:   det.IsSpeedViolation,
		Payload:       datatypes.JSON(payload),
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}, nil
}

// Detection decodes the stored payload.
func (e OutboxEntry) Detection() (detection.VehicleDetectionData, error) {
	var det detection.VehicleDetectionData
	err := json.Unmarshal(e.Payload, &det)
	return det, err
}

func (r *OutboxRepository) Enqueue(ctx context.Context, det detection.VehicleDetectionData) error {
	entry, err := NewOutboxEntry(det)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&entry).Error
}

func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]OutboxEntry, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("attempts ASC, created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []OutboxEntry
	err := query.Find(&entries).Error
	return entries, err
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     StatusSent,
			"sent_at":    now,
			"last_error": nil,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_error": reason,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
}

// MarkDead takes the entry out of the delivery queue for good.
func (r *OutboxRepository) MarkDead(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     StatusDead,
			"last_error": reason,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
}

// Recent returns the newest entries of any status, at most 100.
func (r *OutboxRepository) Recent(ctx context.Context, plate *string, limit int) ([]OutboxEntry, error) {
	query := r.db.WithContext(ctx).Model(&OutboxEntry{})
	if plate != nil {
		query = query.Where("plate_number = ?", *plate)
	}

	query = query.Order("detection_time DESC")
	if limit > 0 {
		query = query.Limit(limit)
		if limit > 100 {
			query = query.Limit(100)
		}
	}

	var entries []OutboxEntry
	err := query.Find(&entries).Error
	return entries, err
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&OutboxEntry{}).
		Where("status = ?", StatusPending).
		Count(&n).Error
	return n, err
}

func (r *OutboxRepository) DeleteSentOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).
		Where("status = ? AND sent_at < ?", StatusSent, cutoff).
		Delete(&OutboxEntry{})
	return res.RowsAffected, res.Error
}
