package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"wisefido-sleepstage/internal/config"
	"wisefido-sleepstage/internal/events"
	"wisefido-sleepstage/internal/labeler"
	"wisefido-sleepstage/internal/models"
	"wisefido-sleepstage/internal/window"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// thresholdDecoder anglez > 0 视为清醒
type thresholdDecoder struct {
	calls atomic.Int32
	err   error
}

func (d *thresholdDecoder) Decode(features [][]float64) ([]int, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	labels := make([]int, len(features))
	for i, f := range features {
		if f[0] > 0 {
			labels[i] = models.StateAwake
		}
	}
	return labels, nil
}

func makeSeries(id string, anglez []float64) *models.Series {
	base := time.Date(2018, 8, 14, 15, 30, 0, 0, time.FixedZone("", -4*3600))
	s := &models.Series{SeriesID: id}
	for i, a := range anglez {
		s.Samples = append(s.Samples, models.Sample{
			Step:      int64(i),
			Timestamp: base.Add(time.Duration(i) * 5 * time.Second).Format("2006-01-02T15:04:05-0700"),
			AngleZ:    a,
			ENMO:      0.01,
		})
	}
	return s
}

func newTestPipeline(t *testing.T, length int, decoder Decoder, workers int) *Pipeline {
	t.Helper()
	w, err := window.NewWindower(length)
	require.NoError(t, err)
	p, err := New(w, decoder, events.NewExtractor(zap.NewNop()),
		config.ComputeConfig{Backend: config.BackendCPU, Workers: workers}, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestNew_RejectsInvalidCompute(t *testing.T) {
	w, err := window.NewWindower(3)
	require.NoError(t, err)

	_, err = New(w, &thresholdDecoder{}, events.NewExtractor(zap.NewNop()),
		config.ComputeConfig{Backend: "cuda", Workers: 1}, zap.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRun_FlipAtWindowBoundary(t *testing.T) {
	p := newTestPipeline(t, 3, &thresholdDecoder{}, 2)

	result, err := p.Run(context.Background(), []*models.Series{
		makeSeries("s1", []float64{-1, -1, -1, 1, 1, 1}),
	})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, models.Event{RowID: 0, SeriesID: "s1", Step: 3, Event: models.EventWakeup, Score: 1.0}, result[0])
}

func TestRun_RowIDsFollowInputSeriesOrder(t *testing.T) {
	p := newTestPipeline(t, 2, &thresholdDecoder{}, 4)

	var series []*models.Series
	for i := 0; i < 5; i++ {
		series = append(series, makeSeries(fmt.Sprintf("s%d", i), []float64{-1, -1, 1, 1, -1, -1, 1}))
	}

	result, err := p.Run(context.Background(), series)
	require.NoError(t, err)
	require.Len(t, result, 10)
	for i, ev := range result {
		assert.Equal(t, i, ev.RowID)
		assert.Equal(t, fmt.Sprintf("s%d", i/2), ev.SeriesID)
	}
	// 尾部不足一个窗口的采样点被丢弃，所以最后一个 1 不会产生事件
	assert.Equal(t, int64(2), result[0].Step)
	assert.Equal(t, int64(4), result[1].Step)
	assert.Equal(t, models.EventOnset, result[1].Event)
}

func TestLabel_DropsTailAndKeepsStepOrder(t *testing.T) {
	decoder := &thresholdDecoder{}
	p := newTestPipeline(t, 3, decoder, 3)

	labeled, err := p.Label(context.Background(), []*models.Series{
		makeSeries("s1", []float64{-1, 1, -1, 1, -1, 1, -1, 1, -1, 1, 1}),
	})
	require.NoError(t, err)
	require.Len(t, labeled, 1)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8}, labeled[0].Steps)
	assert.Equal(t, []int{0, 1, 0, 1, 0, 1, 0, 1, 0}, labeled[0].Labels)
	assert.Equal(t, int32(3), decoder.calls.Load())
}

func TestRun_MalformedTimestamp(t *testing.T) {
	p := newTestPipeline(t, 2, &thresholdDecoder{}, 1)

	bad := makeSeries("bad", []float64{0, 0, 0, 0})
	bad.Samples[2].Timestamp = "not-a-time"

	_, err := p.Run(context.Background(), []*models.Series{makeSeries("ok", []float64{0, 0}), bad})
	assert.ErrorIs(t, err, window.ErrMalformedTimestamp)
}

func TestRun_DecoderError(t *testing.T) {
	boom := errors.New("boom")
	p := newTestPipeline(t, 2, &thresholdDecoder{err: boom}, 2)

	_, err := p.Run(context.Background(), []*models.Series{makeSeries("s1", []float64{0, 0, 0, 0})})
	assert.ErrorIs(t, err, boom)
}

func TestRun_CancelledContext(t *testing.T) {
	p := newTestPipeline(t, 2, &thresholdDecoder{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, []*models.Series{makeSeries("s1", []float64{0, 0, 0, 0})})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_WithModel(t *testing.T) {
	cfg := labeler.DefaultConfig()
	cfg.HiddenSize = 8
	cfg.SequenceLength = 4
	model, err := labeler.New(cfg)
	require.NoError(t, err)

	anglez := make([]float64, 18)
	for i := range anglez {
		anglez[i] = float64(i%7) - 3
	}

	single := newTestPipeline(t, 4, model, 1)
	parallel := newTestPipeline(t, 4, model, 4)

	series := []*models.Series{makeSeries("a", anglez), makeSeries("b", anglez[:9])}
	want, err := single.Run(context.Background(), series)
	require.NoError(t, err)
	got, err := parallel.Run(context.Background(), series)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	labeled, err := parallel.Label(context.Background(), series)
	require.NoError(t, err)
	require.Len(t, labeled, 2)
	assert.Len(t, labeled[0].Labels, 16)
	assert.Len(t, labeled[1].Labels, 8)
}
