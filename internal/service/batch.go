package service

import (
	"context"
	"fmt"
	"os"

	"wisefido-sleepstage/internal/config"
	"wisefido-sleepstage/internal/export"
	"wisefido-sleepstage/internal/labeler"
	"wisefido-sleepstage/internal/models"
	"wisefido-sleepstage/internal/repository"
	"wisefido-sleepstage/internal/train"
	"wisefido-sleepstage/internal/window"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// eventSaver 事件持久化（repository.EventRepository 实现）
type eventSaver interface {
	SaveEvents(ctx context.Context, runID string, seriesIDs []string, events []models.Event) error
}

// PredictResult 一次批量预测的结果
type PredictResult struct {
	RunID     string
	SeriesIDs []string
	Events    []models.Event
}

// Predict 对数据源中的全部序列做批量预测；events 为 nil 时不落库
func Predict(
	ctx context.Context,
	cfg *config.Config,
	model *labeler.Model,
	store repository.SeriesStore,
	events eventSaver,
	logger *zap.Logger,
) (*PredictResult, error) {
	series, err := repository.LoadAll(ctx, store)
	if err != nil {
		return nil, err
	}

	pipe, err := NewPipeline(cfg, model, logger)
	if err != nil {
		return nil, err
	}
	evs, err := pipe.Run(ctx, series)
	if err != nil {
		return nil, err
	}

	result := &PredictResult{
		RunID:     uuid.New().String(),
		SeriesIDs: make([]string, len(series)),
		Events:    evs,
	}
	for i, s := range series {
		result.SeriesIDs[i] = s.SeriesID
	}

	if events != nil {
		if err := events.SaveEvents(ctx, result.RunID, result.SeriesIDs, evs); err != nil {
			return nil, err
		}
	}

	logger.Info("Batch prediction finished",
		zap.String("run_id", result.RunID),
		zap.Int("series", len(series)),
		zap.Int("events", len(evs)),
	)
	return result, nil
}

// ExportEvents 按配置写出 CSV 和（可选）Excel
func ExportEvents(cfg *config.Config, evs []models.Event, logger *zap.Logger) error {
	if cfg.Export.CSVPath != "" {
		if err := writeFile(cfg.Export.CSVPath, func(f *os.File) error {
			return export.WriteCSV(f, evs)
		}); err != nil {
			return err
		}
		logger.Info("Events written", zap.String("path", cfg.Export.CSVPath))
	}
	if cfg.Export.ExcelPath != "" {
		if err := writeFile(cfg.Export.ExcelPath, func(f *os.File) error {
			return export.WriteExcel(f, evs)
		}); err != nil {
			return err
		}
		logger.Info("Events written", zap.String("path", cfg.Export.ExcelPath))
	}
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// TrainOptions 由配置生成训练参数
func TrainOptions(cfg *config.Config) train.Options {
	return train.Options{
		Epochs:       cfg.Train.Epochs,
		BatchSize:    cfg.Train.BatchSize,
		LearningRate: cfg.Train.LearningRate,
		TrainSplit:   cfg.Train.TrainSplit,
		Seed:         cfg.Model.Seed,
		Compute:      cfg.Compute,
	}
}

// Train 从数据源加载已标注序列并训练新模型，F1 提升时写入 sinks
func Train(
	ctx context.Context,
	cfg *config.Config,
	store repository.SeriesStore,
	logger *zap.Logger,
	sinks ...train.SnapshotSink,
) (*train.Result, error) {
	series, err := repository.LoadAll(ctx, store)
	if err != nil {
		return nil, err
	}

	windower, err := window.NewWindower(cfg.Model.TrainSequenceLength)
	if err != nil {
		return nil, err
	}
	all, err := windower.SplitAll(series)
	if err != nil {
		return nil, err
	}
	labeled := all[:0]
	for _, w := range all {
		if w.Labels != nil {
			labeled = append(labeled, w)
		}
	}
	logger.Info("Training windows prepared",
		zap.Int("series", len(series)),
		zap.Int("windows", len(labeled)),
		zap.Int("unlabeled_windows", len(all)-len(labeled)),
	)

	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	trainer, err := train.NewTrainer(model, TrainOptions(cfg), logger, sinks...)
	if err != nil {
		return nil, err
	}
	return trainer.Fit(ctx, labeled)
}
