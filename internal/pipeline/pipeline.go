// Package pipeline 串联窗口切分、模型解码、序列重组和事件提取
package pipeline

import (
	"context"
	"fmt"

	"wisefido-sleepstage/internal/config"
	"wisefido-sleepstage/internal/events"
	"wisefido-sleepstage/internal/models"
	"wisefido-sleepstage/internal/window"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Decoder 单窗口解码（labeler.Model 实现该接口，且可并发调用）
type Decoder interface {
	Decode(features [][]float64) ([]int, error)
}

// Pipeline 预测流水线
type Pipeline struct {
	windower  *window.Windower
	decoder   Decoder
	extractor *events.Extractor
	compute   config.ComputeConfig
	logger    *zap.Logger
}

// New 创建预测流水线
func New(
	windower *window.Windower,
	decoder Decoder,
	extractor *events.Extractor,
	compute config.ComputeConfig,
	logger *zap.Logger,
) (*Pipeline, error) {
	if err := compute.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		windower:  windower,
		decoder:   decoder,
		extractor: extractor,
		compute:   compute,
		logger:    logger,
	}, nil
}

// Label 解码所有序列的全部窗口并按序列重组
//
// 窗口在 worker 池中并行解码；所有窗口完成后才进行重组。
// 任一序列的时间戳或标注非法时整体失败。
func (p *Pipeline) Label(ctx context.Context, series []*models.Series) ([]models.SeriesLabels, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.compute.Workers)

	decoded := make([][]models.DecodedWindow, len(series))
	for si, s := range series {
		seq, err := p.windower.Windows(s)
		if err != nil {
			_ = g.Wait()
			return nil, fmt.Errorf("failed to window series: %w", err)
		}

		slots := make([]models.DecodedWindow, p.windower.Count(len(s.Samples)))
		decoded[si] = slots
		for win := range seq {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				labels, err := p.decoder.Decode(win.Features)
				if err != nil {
					return fmt.Errorf("failed to decode series %s window %d: %w", win.SeriesID, win.Index, err)
				}
				slots[win.Index] = models.DecodedWindow{
					SeriesID: win.SeriesID,
					Steps:    win.Steps,
					Labels:   labels,
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []models.DecodedWindow
	for si, slots := range decoded {
		all = append(all, slots...)
		p.logger.Debug("Series decoded",
			zap.String("series_id", series[si].SeriesID),
			zap.Int("samples", len(series[si].Samples)),
			zap.Int("windows", len(slots)),
		)
	}
	return events.Reassemble(all), nil
}

// Run 完整流水线：返回所有序列的事件表，row_id 按输入序列顺序连续编号
func (p *Pipeline) Run(ctx context.Context, series []*models.Series) ([]models.Event, error) {
	labeled, err := p.Label(ctx, series)
	if err != nil {
		return nil, err
	}
	result := p.extractor.Extract(labeled)

	p.logger.Info("Pipeline completed",
		zap.Int("series", len(series)),
		zap.Int("events", len(result)),
	)
	return result, nil
}
