package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSnapshotNotFound 没有该名称的快照
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotRepository model_snapshots 表（模型快照注册表）
type SnapshotRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSnapshotRepository 创建快照仓库
func NewSnapshotRepository(db *sql.DB, logger *zap.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:     db,
		logger: logger,
	}
}

// SaveSnapshot 保存一个快照
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, name string, f1 float64, payload []byte) error {
	if name == "" {
		return fmt.Errorf("snapshot name is required")
	}

	id := uuid.New().String()
	query := `
		INSERT INTO model_snapshots (snapshot_id, name, f1, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.ExecContext(ctx, query, id, name, f1, payload); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	r.logger.Info("Snapshot saved",
		zap.String("snapshot_id", id),
		zap.String("name", name),
		zap.Float64("f1", f1),
		zap.Int("bytes", len(payload)),
	)
	return nil
}

// LatestSnapshot 最近保存的快照内容
func (r *SnapshotRepository) LatestSnapshot(ctx context.Context, name string) ([]byte, error) {
	query := `
		SELECT payload
		FROM model_snapshots
		WHERE name = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return payload, nil
}
