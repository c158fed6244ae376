// Package train 模型训练：划分训练/验证集、小批量 Adam 更新、按验证 F1 保存最优快照
package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"wisefido-sleepstage/internal/config"
	"wisefido-sleepstage/internal/labeler"
	"wisefido-sleepstage/internal/metrics"
	"wisefido-sleepstage/internal/models"
	"wisefido-sleepstage/internal/nn"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotEnoughData 样本不足以划分训练集和验证集
var ErrNotEnoughData = errors.New("not enough labeled windows")

// Options 训练参数
type Options struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	TrainSplit   float64
	Seed         int64
	Compute      config.ComputeConfig
}

// DefaultOptions 默认训练参数
func DefaultOptions() Options {
	return Options{
		Epochs:       10,
		BatchSize:    8,
		LearningRate: 0.001,
		TrainSplit:   0.8,
		Seed:         42,
		Compute:      config.ComputeConfig{Backend: config.BackendCPU, Workers: 1},
	}
}

// EpochStats 单轮训练结果
type EpochStats struct {
	Epoch      int
	Loss       float64
	MaxGrad    float64 // 本轮各批梯度 L2 范数的最大值
	Validation metrics.Report
	Saved      bool
}

// Result 训练结果
type Result struct {
	BestF1    float64
	BestEpoch int // 0 表示没有保存过快照
	History   []EpochStats
}

// Trainer 训练器（参数更新严格串行）
type Trainer struct {
	model  *labeler.Model
	opts   Options
	opt    *nn.Adam
	sinks  []SnapshotSink
	logger *zap.Logger
}

// NewTrainer 创建训练器
func NewTrainer(model *labeler.Model, opts Options, logger *zap.Logger, sinks ...SnapshotSink) (*Trainer, error) {
	if err := opts.Compute.Validate(); err != nil {
		return nil, err
	}
	if opts.Epochs < 1 || opts.BatchSize < 1 {
		return nil, fmt.Errorf("%w: epochs and batch size must be >= 1", config.ErrInvalidConfig)
	}
	if opts.TrainSplit <= 0 || opts.TrainSplit >= 1 {
		return nil, fmt.Errorf("%w: train split must be in (0, 1)", config.ErrInvalidConfig)
	}
	return &Trainer{
		model:  model,
		opts:   opts,
		opt:    nn.NewAdam(opts.LearningRate),
		sinks:  sinks,
		logger: logger,
	}, nil
}

// Split 随机划分训练集和验证集（两者都至少一个窗口）
func Split(windows []models.Window, ratio float64, rng *rand.Rand) (train, val []models.Window, err error) {
	if len(windows) < 2 {
		return nil, nil, fmt.Errorf("%w: got %d, need at least 2", ErrNotEnoughData, len(windows))
	}
	size := int(ratio * float64(len(windows)))
	size = min(max(size, 1), len(windows)-1)

	perm := rng.Perm(len(windows))
	for i, idx := range perm {
		if i < size {
			train = append(train, windows[idx])
		} else {
			val = append(val, windows[idx])
		}
	}
	return train, val, nil
}

// Fit 训练模型
func (t *Trainer) Fit(ctx context.Context, windows []models.Window) (*Result, error) {
	for _, w := range windows {
		if !w.HasLabels() {
			return nil, fmt.Errorf("%w: series %s window %d has no labels", ErrNotEnoughData, w.SeriesID, w.Index)
		}
	}

	rng := rand.New(rand.NewSource(t.opts.Seed))
	trainSet, valSet, err := Split(windows, t.opts.TrainSplit, rng)
	if err != nil {
		return nil, err
	}

	t.logger.Info("Starting model training",
		zap.String("model", t.model.Name()),
		zap.Int("train_windows", len(trainSet)),
		zap.Int("validation_windows", len(valSet)),
		zap.Int("epochs", t.opts.Epochs),
		zap.Int("batch_size", t.opts.BatchSize),
	)

	result := &Result{}
	for epoch := 1; epoch <= t.opts.Epochs; epoch++ {
		loss, maxGrad, err := t.trainEpoch(ctx, trainSet, rng)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		t.logger.Info(fmt.Sprintf("Epoch [%d/%d], Loss: %.4f", epoch, t.opts.Epochs, loss),
			zap.Int("epoch", epoch),
			zap.Float64("loss", loss),
			zap.Float64("max_grad_norm", maxGrad),
		)

		report, err := t.Evaluate(ctx, valSet)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		t.logger.Info(report.String(), zap.Int("epoch", epoch))

		stats := EpochStats{Epoch: epoch, Loss: loss, MaxGrad: maxGrad, Validation: report}
		if report.F1 > result.BestF1 {
			if err := t.persist(ctx, report); err != nil {
				return nil, err
			}
			result.BestF1 = report.F1
			result.BestEpoch = epoch
			stats.Saved = true
			t.logger.Info("Model saved", zap.Int("epoch", epoch), zap.Float64("f1", report.F1))
		}
		result.History = append(result.History, stats)
	}
	return result, nil
}

// trainEpoch 打乱后按小批量更新，返回各批损失的平均值和最大梯度范数
func (t *Trainer) trainEpoch(ctx context.Context, windows []models.Window, rng *rand.Rand) (float64, float64, error) {
	order := rng.Perm(len(windows))

	var total, maxGrad float64
	batches := 0
	for start := 0; start < len(order); start += t.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		end := min(start+t.opts.BatchSize, len(order))

		features := make([][][]float64, 0, end-start)
		labels := make([][]int, 0, end-start)
		for _, idx := range order[start:end] {
			features = append(features, windows[idx].Features)
			labels = append(labels, windows[idx].Labels)
		}

		t.model.ZeroGrad()
		loss, tape, err := t.model.Loss(features, labels)
		if err != nil {
			return 0, 0, err
		}
		t.model.Backward(tape)

		params := t.model.Params()
		norm := nn.GradNorm(params)
		if math.IsNaN(norm) || math.IsInf(norm, 0) {
			return 0, 0, fmt.Errorf("non-finite gradient norm in batch %d", batches)
		}
		if norm > maxGrad {
			maxGrad = norm
		}
		t.logger.Debug("Batch trained",
			zap.Int("batch", batches),
			zap.Float64("loss", loss),
			zap.Float64("grad_norm", norm),
		)
		t.opt.Step(params)

		total += loss
		batches++
	}
	return total / float64(batches), maxGrad, nil
}

// Evaluate 在验证集上并行解码并计算指标
func (t *Trainer) Evaluate(ctx context.Context, windows []models.Window) (metrics.Report, error) {
	predictions := make([][]int, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Compute.Workers)
	for start := 0; start < len(windows); start += t.opts.BatchSize {
		end := min(start+t.opts.BatchSize, len(windows))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			features := make([][][]float64, 0, end-start)
			for _, w := range windows[start:end] {
				features = append(features, w.Features)
			}
			paths, err := t.model.DecodeBatch(features)
			if err != nil {
				return err
			}
			copy(predictions[start:end], paths)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return metrics.Report{}, err
	}

	confusion := metrics.NewConfusion()
	for i, w := range windows {
		if err := confusion.Add(w.Labels, predictions[i]); err != nil {
			return metrics.Report{}, err
		}
	}
	return confusion.Report(), nil
}

func (t *Trainer) persist(ctx context.Context, report metrics.Report) error {
	snapshot := t.model.Snapshot()
	for _, sink := range t.sinks {
		if err := sink.SaveSnapshot(ctx, snapshot, report); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
	}
	return nil
}
