package repository

import (
	"context"
	"fmt"

	"wisefido-sleepstage/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// clickHouseConn driver.Conn 中用到的部分
type clickHouseConn interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Exec(ctx context.Context, query string, args ...any) error
}

// clickHouseSchema awake = -1 表示无标注
const clickHouseSchema = `
	CREATE TABLE IF NOT EXISTS actigraphy_samples (
		series_id String,
		step      Int64,
		timestamp String,
		anglez    Float64,
		enmo      Float64,
		awake     Int8 DEFAULT -1
	) ENGINE = MergeTree()
	ORDER BY (series_id, step)
`

// ClickHouseSeriesRepository ClickHouse 中的 actigraphy_samples 表
type ClickHouseSeriesRepository struct {
	conn   clickHouseConn
	logger *zap.Logger
}

// NewClickHouseSeriesRepository 创建序列仓库
func NewClickHouseSeriesRepository(conn driver.Conn, logger *zap.Logger) *ClickHouseSeriesRepository {
	return &ClickHouseSeriesRepository{
		conn:   conn,
		logger: logger,
	}
}

// EnsureSchema 创建缺失的表
func (r *ClickHouseSeriesRepository) EnsureSchema(ctx context.Context) error {
	if err := r.conn.Exec(ctx, clickHouseSchema); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// ListSeriesIDs 所有序列 ID（升序）
func (r *ClickHouseSeriesRepository) ListSeriesIDs(ctx context.Context) ([]string, error) {
	rows, err := r.conn.Query(ctx, `SELECT DISTINCT series_id FROM actigraphy_samples ORDER BY series_id`)
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
func (r *ClickHouseSeriesRepository) LoadSeries(ctx context.Context, seriesID string) (*models.Series, error) {
	query := `
		SELECT step, timestamp, anglez, enmo, awake
		FROM actigraphy_samples
		WHERE series_id = ?
		ORDER BY step
	`
	rows, err := r.conn.Query(ctx, query, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to query series %s: %w", seriesID, err)
	}
	defer rows.Close()

	series := &models.Series{SeriesID: seriesID}
	for rows.Next() {
		var s models.Sample
		var awake int8
		if err := rows.Scan(&s.Step, &s.Timestamp, &s.AngleZ, &s.ENMO, &awake); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		if awake >= 0 {
			label := int(awake)
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

	r.logger.Debug("Series loaded from ClickHouse",
		zap.String("series_id", seriesID),
		zap.Int("samples", len(series.Samples)),
	)
	return series, nil
}
