package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wisefido-sleepstage/internal/models"

	"go.uber.org/zap"
)

// ErrSeriesNotFound 序列不存在或没有采样点
var ErrSeriesNotFound = errors.New("series not found")

// SeriesStore 序列数据源
type SeriesStore interface {
	ListSeriesIDs(ctx context.Context) ([]string, error)
	LoadSeries(ctx context.Context, seriesID string) (*models.Series, error)
}

// PostgresSeriesRepository actigraphy_samples 表
type PostgresSeriesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresSeriesRepository 创建序列仓库
func NewPostgresSeriesRepository(db *sql.DB, logger *zap.Logger) *PostgresSeriesRepository {
	return &PostgresSeriesRepository{
		db:     db,
		logger: logger,
	}
}

// ListSeriesIDs 所有序列 ID（升序）
func (r *PostgresSeriesRepository) ListSeriesIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT series_id FROM actigraphy_samples ORDER BY series_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query series ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan series id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadSeries 按 step 升序读取一条序列
func (r *PostgresSeriesRepository) LoadSeries(ctx context.Context, seriesID string) (*models.Series, error) {
	query := `
		SELECT step, timestamp, anglez, enmo, awake
		FROM actigraphy_samples
		WHERE series_id = $1
		ORDER BY step
	`
	rows, err := r.db.QueryContext(ctx, query, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to query series %s: %w", seriesID, err)
	}
	defer rows.Close()

	series := &models.Series{SeriesID: seriesID}
	for rows.Next() {
		var s models.Sample
		var awake sql.NullInt64
		if err := rows.Scan(&s.Step, &s.Timestamp, &s.AngleZ, &s.ENMO, &awake); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		if awake.Valid {
			label := int(awake.Int64)
			s.Label = &label
		}
		series.Samples = append(series.Samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read series %s: %w", seriesID, err)
	}
	if len(series.Samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSeriesNotFound, seriesID)
	}

	r.logger.Debug("Series loaded",
		zap.String("series_id", seriesID),
		zap.Int("samples", len(series.Samples)),
	)
	return series, nil
}

// LoadAll 读取全部序列（按 ListSeriesIDs 的顺序）
func LoadAll(ctx context.Context, store SeriesStore) ([]*models.Series, error) {
	ids, err := store.ListSeriesIDs(ctx)
	if err != nil {
		return nil, err
	}
	all := make([]*models.Series, 0, len(ids))
	for _, id := range ids {
		s, err := store.LoadSeries(ctx, id)
		if err != nil {
			return nil, err
		}
		all = append(all, s)
	}
	return all, nil
}
