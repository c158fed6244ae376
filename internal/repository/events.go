package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-sleepstage/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventRepository sleep_events 表
type EventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEventRepository 创建事件仓库
func NewEventRepository(db *sql.DB, logger *zap.Logger) *EventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// SaveEvents 替换 seriesIDs 对应序列的事件（单个事务）
//
// 没有事件的序列也会清空旧记录。
func (r *EventRepository) SaveEvents(ctx context.Context, runID string, seriesIDs []string, events []models.Event) error {
	if _, err := uuid.Parse(runID); err != nil {
		return fmt.Errorf("invalid run_id %q: %w", runID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, id := range seriesIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sleep_events WHERE series_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete events of series %s: %w", id, err)
		}
	}

	query := `
		INSERT INTO sleep_events (run_id, row_id, series_id, step, event, score)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, query, runID, e.RowID, e.SeriesID, e.Step, e.Event, e.Score); err != nil {
			return fmt.Errorf("failed to insert event %d: %w", e.RowID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Events saved",
		zap.String("run_id", runID),
		zap.Int("series", len(seriesIDs)),
		zap.Int("events", len(events)),
	)
	return nil
}

// ListEvents 读取一条序列的事件（按 step 升序）
func (r *EventRepository) ListEvents(ctx context.Context, seriesID string) ([]models.Event, error) {
	query := `
		SELECT row_id, series_id, step, event, score
		FROM sleep_events
		WHERE series_id = $1
		ORDER BY step
	`
	rows, err := r.db.QueryContext(ctx, query, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.RowID, &e.SeriesID, &e.Step, &e.Event, &e.Score); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
