package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"plate-node/internal/metrics"
	"plate-node/internal/repository"
)

const DefaultMaxAttempts = 10

// OutboxDrainer resubmits detections the worker could not deliver, across hub
// outages and restarts. Entries the hub keeps rejecting end up dead.
type OutboxDrainer struct {
	store         OutboxStore
	sender        DetectionSender
	batchSize     int
	retentionDays int
	maxAttempts   int
	metrics       *metrics.Metrics
	log           zerolog.Logger
}

func NewOutboxDrainer(store OutboxStore, sender DetectionSender, batchSize, retentionDays int, m *metrics.Metrics, log zerolog.Logger) *OutboxDrainer {
	if batchSize <= 0 {
		batchSize = 20
	}
	if m == nil {
		m = metrics.New()
	}
	return &OutboxDrainer{
		store:         store,
		sender:        sender,
		batchSize:     batchSize,
		retentionDays: retentionDays,
		maxAttempts:   DefaultMaxAttempts,
		metrics:       m,
		log:           log,
	}
}

// WithMaxAttempts sets how many failed deliveries move an entry to dead.
func (d *OutboxDrainer) WithMaxAttempts(n int) *OutboxDrainer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *OutboxDrainer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DrainOnce(ctx); err != nil && ctx.Err() == nil {
				d.log.Error().Err(err).Msg("outbox drain failed")
			}
			if d.retentionDays > 0 {
				d.Cleanup(ctx)
			}
		}
	}
}

// DrainOnce sends one batch of pending entries and returns how many the hub
// accepted.
func (d *OutboxDrainer) DrainOnce(ctx context.Context) (int, error) {
	entries, err := d.store.ListPending(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending detections: %w", err)
	}

	sent := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}

		det, err := e.Detection()
		if err != nil {
			d.log.Error().Err(err).Str("entry_id", e.ID.String()).Msg("undecodable outbox entry")
			if merr := d.store.MarkDead(ctx, e.ID, err.Error()); merr != nil {
				return sent, merr
			}
			d.metrics.OutboxDead.Add(1)
			continue
		}

		ok, sendErr := d.sender.SendDetection(ctx, det)
		if !ok {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			reason := "hub did not accept detection"
			if sendErr != nil {
				reason = sendErr.Error()
			}
			if err := d.markFailed(ctx, e, reason); err != nil {
				return sent, err
			}
			continue
		}

		if err := d.store.MarkSent(ctx, e.ID); err != nil {
			return sent, fmt.Errorf("failed to mark detection sent: %w", err)
		}
		sent++
		d.metrics.OutboxDelivered.Add(1)
	}

	if len(entries) > 0 {
		d.log.Info().
			Int("pending", len(entries)).
			Int("sent", sent).
			Msg("outbox drained")
	}
	return sent, nil
}

// markFailed records a failed delivery. The entry stays pending behind newer
// entries until it reaches maxAttempts.
func (d *OutboxDrainer) markFailed(ctx context.Context, e repository.OutboxEntry, reason string) error {
	if e.Attempts+1 >= d.maxAttempts {
		d.log.Warn().
			Str("entry_id", e.ID.String()).
			Str("plate", e.PlateNumber).
			Int("attempts", e.Attempts+1).
			Str("reason", reason).
			Msg("giving up on outbox entry")
		if err := d.store.MarkDead(ctx, e.ID, reason); err != nil {
			return fmt.Errorf("failed to mark detection dead: %w", err)
		}
		d.metrics.OutboxDead.Add(1)
		return nil
	}
	if err := d.store.MarkFailed(ctx, e.ID, reason); err != nil {
		return fmt.Errorf("failed to mark detection failed: %w", err)
	}
	return nil
}

func (d *OutboxDrainer) Cleanup(ctx context.Context) (int64, error) {
	deleted, err := d.store.DeleteSentOlderThan(ctx, d.retentionDays)
	if err != nil {
		d.log.Error().Err(err).Int("days", d.retentionDays).Msg("failed to cleanup sent detections")
		return 0, err
	}
	if deleted > 0 {
		d.log.Info().Int64("deleted_count", deleted).Int("days", d.retentionDays).Msg("cleaned up sent detections")
	}
	return deleted, nil
}
