package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE TABLE IF NOT EXISTS detection_outbox (
		id              UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		node_id         TEXT NOT NULL,
		plate_number    TEXT NOT NULL,
		detection_time  TIMESTAMPTZ NOT NULL,
		is_violation    BOOLEAN NOT NULL DEFAULT false,
		payload         JSONB NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		attempts        INT NOT NULL DEFAULT 0,
		last_error      TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		sent_at         TIMESTAMPTZ
	);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_outbox_queue ON detection_outbox(status, attempts, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_outbox_detection_time ON detection_outbox(detection_time);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_outbox_plate ON detection_outbox(plate_number);`,
}

func Migrate(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
