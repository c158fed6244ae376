package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// postgresSchema 服务使用的表（幂等）
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS actigraphy_samples (
		series_id  TEXT             NOT NULL,
		step       BIGINT           NOT NULL,
		timestamp  TEXT             NOT NULL,
		anglez     DOUBLE PRECISION NOT NULL,
		enmo       DOUBLE PRECISION NOT NULL,
		awake      SMALLINT,
		PRIMARY KEY (series_id, step)
	)`,
	`CREATE TABLE IF NOT EXISTS sleep_events (
		run_id     UUID             NOT NULL,
		row_id     INTEGER          NOT NULL,
		series_id  TEXT             NOT NULL,
		step       BIGINT           NOT NULL,
		event      TEXT             NOT NULL,
		score      DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ      NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sleep_events_series ON sleep_events (series_id, step)`,
	`CREATE TABLE IF NOT EXISTS model_snapshots (
		snapshot_id UUID             PRIMARY KEY,
		name        TEXT             NOT NULL,
		f1          DOUBLE PRECISION NOT NULL,
		payload     BYTEA            NOT NULL,
		created_at  TIMESTAMPTZ      NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema 创建缺失的表
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range postgresSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
