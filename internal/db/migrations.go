package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE TABLE IF NOT EXISTS video_jobs (
		id                  UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		task                TEXT NOT NULL,
		roi                 JSONB,
		status              TEXT NOT NULL,
		progress_percent    DOUBLE PRECISION NOT NULL DEFAULT 0,
		cancelled           BOOLEAN NOT NULL DEFAULT FALSE,
		cancelled_at        TIMESTAMPTZ,
		processed_frames    INT NOT NULL DEFAULT 0,
		vehicle_count       INT NOT NULL DEFAULT 0,
		plate_count         INT NOT NULL DEFAULT 0,
		video_url           TEXT,
		error               TEXT,
		processing_time_sec DOUBLE PRECISION,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_video_jobs_created_at ON video_jobs(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_video_jobs_status ON video_jobs(status);`,
	`CREATE TABLE IF NOT EXISTS frames (
		id              BIGSERIAL PRIMARY KEY,
		image_url       TEXT NOT NULL,
		captured_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		vehicle_count   INT NOT NULL DEFAULT 0,
		plate_count     INT NOT NULL DEFAULT 0,
		raw_meta        JSONB
	);`,
	`CREATE INDEX IF NOT EXISTS idx_frames_captured_at ON frames(captured_at);`,
	`CREATE TABLE IF NOT EXISTS plates (
		id              BIGSERIAL PRIMARY KEY,
		frame_id        BIGINT NOT NULL REFERENCES frames(id) ON DELETE CASCADE,
		plate_text      TEXT NOT NULL,
		confidence      DOUBLE PRECISION,
		bbox_vehicle    JSONB,
		bbox_plate      JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_plates_frame_id ON plates(frame_id);`,
	`CREATE INDEX IF NOT EXISTS idx_plates_created_at ON plates(created_at);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
