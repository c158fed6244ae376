package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"wisefido-sleepstage/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

// ============================================
// 序列
// ============================================

func TestListSeriesIDs(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresSeriesRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT DISTINCT series_id FROM actigraphy_samples`).
		WillReturnRows(sqlmock.NewRows([]string{"series_id"}).AddRow("a").AddRow("b"))

	ids, err := repo.ListSeriesIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSeries_Success(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresSeriesRepository(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"step", "timestamp", "anglez", "enmo", "awake"}).
		AddRow(int64(0), "2018-08-14T15:30:00-0400", 2.6367, 0.0217, int64(1)).
		AddRow(int64(1), "2018-08-14T15:30:05-0400", 2.6368, 0.0215, nil)

	mock.ExpectQuery(`SELECT step, timestamp, anglez, enmo, awake`).
		WithArgs("038441c925bb").
		WillReturnRows(rows)

	series, err := repo.LoadSeries(context.Background(), "038441c925bb")
	require.NoError(t, err)
	require.Len(t, series.Samples, 2)
	assert.Equal(t, "038441c925bb", series.SeriesID)
	assert.Equal(t, int64(1), series.Samples[1].Step)
	assert.Equal(t, 2.6367, series.Samples[0].AngleZ)
	require.NotNil(t, series.Samples[0].Label)
	assert.Equal(t, models.StateAwake, *series.Samples[0].Label)
	assert.Nil(t, series.Samples[1].Label)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSeries_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresSeriesRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT step`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"step", "timestamp", "anglez", "enmo", "awake"}))

	_, err := repo.LoadSeries(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSeriesNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSeries_QueryError(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresSeriesRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT step`).WillReturnError(errors.New("connection refused"))

	_, err := repo.LoadSeries(context.Background(), "s")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLoadAll(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewPostgresSeriesRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT DISTINCT series_id`).
		WillReturnRows(sqlmock.NewRows([]string{"series_id"}).AddRow("a").AddRow("b"))
	for _, id := range []string{"a", "b"} {
		mock.ExpectQuery(`SELECT step`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"step", "timestamp", "anglez", "enmo", "awake"}).
				AddRow(int64(0), "2018-08-14T15:30:00-0400", 0.0, 0.0, nil))
	}

	all, err := LoadAll(context.Background(), repo)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].SeriesID)
	assert.Equal(t, "b", all[1].SeriesID)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 事件
// ============================================

func TestSaveEvents_Success(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewEventRepository(db, zap.NewNop())

	runID := uuid.New().String()
	events := []models.Event{
		{RowID: 0, SeriesID: "s1", Step: 30, Event: models.EventWakeup, Score: 1.0},
		{RowID: 1, SeriesID: "s1", Step: 50, Event: models.EventOnset, Score: 1.0},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM sleep_events`).WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM sleep_events`).WithArgs("s2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO sleep_events`).
		WithArgs(runID, 0, "s1", int64(30), "wakeup", 1.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO sleep_events`).
		WithArgs(runID, 1, "s1", int64(50), "onset", 1.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SaveEvents(context.Background(), runID, []string{"s1", "s2"}, events)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEvents_InsertErrorRollsBack(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewEventRepository(db, zap.NewNop())

	runID := uuid.New().String()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM sleep_events`).WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO sleep_events`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.SaveEvents(context.Background(), runID, []string{"s1"}, []models.Event{
		{RowID: 0, SeriesID: "s1", Step: 30, Event: models.EventWakeup, Score: 1.0},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEvents_InvalidRunID(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewEventRepository(db, zap.NewNop())

	err := repo.SaveEvents(context.Background(), "not-a-uuid", []string{"s1"}, nil)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEvents(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewEventRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT row_id, series_id, step, event, score`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"row_id", "series_id", "step", "event", "score"}).
			AddRow(0, "s1", int64(30), "wakeup", 1.0).
			AddRow(1, "s1", int64(50), "onset", 1.0))

	events, err := repo.ListEvents(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []models.Event{
		{RowID: 0, SeriesID: "s1", Step: 30, Event: "wakeup", Score: 1.0},
		{RowID: 1, SeriesID: "s1", Step: 50, Event: "onset", Score: 1.0},
	}, events)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 快照
// ============================================

func TestSaveSnapshot(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewSnapshotRepository(db, zap.NewNop())

	payload := []byte(`{"name":"ActiNetCRFv1"}`)
	mock.ExpectExec(`INSERT INTO model_snapshots`).
		WithArgs(sqlmock.AnyArg(), "ActiNetCRFv1", 0.91, payload).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveSnapshot(context.Background(), "ActiNetCRFv1", 0.91, payload))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, repo.SaveSnapshot(context.Background(), "", 0.5, payload))
}

func TestLatestSnapshot(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewSnapshotRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT payload`).
		WithArgs("ActiNetCRFv1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte("{}")))

	payload, err := repo.LatestSnapshot(context.Background(), "ActiNetCRFv1")
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), payload)

	mock.ExpectQuery(`SELECT payload`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.LatestSnapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	for range postgresSchema {
		mock.ExpectExec(`CREATE`).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, EnsureSchema(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}
