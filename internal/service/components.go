package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"wisefido-sleepstage/internal/common/database"
	"wisefido-sleepstage/internal/config"
	"wisefido-sleepstage/internal/events"
	"wisefido-sleepstage/internal/labeler"
	"wisefido-sleepstage/internal/pipeline"
	"wisefido-sleepstage/internal/repository"
	"wisefido-sleepstage/internal/window"

	"go.uber.org/zap"
)

// ErrModelNotFound 本地文件和快照注册表中都没有模型
var ErrModelNotFound = errors.New("model snapshot not found")

// snapshotLoader 快照注册表（repository.SnapshotRepository 实现）
type snapshotLoader interface {
	LatestSnapshot(ctx context.Context, name string) ([]byte, error)
}

// LoadModel 加载模型：优先读本地快照文件，不存在时读快照注册表
func LoadModel(ctx context.Context, cfg *config.Config, registry snapshotLoader, logger *zap.Logger) (*labeler.Model, error) {
	file, err := os.Open(cfg.Model.Path)
	if err == nil {
		defer file.Close()
		model, err := labeler.Load(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load model from %s: %w", cfg.Model.Path, err)
		}
		logger.Info("Model loaded from file", zap.String("path", cfg.Model.Path))
		return model, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to open model file: %w", err)
	}

	if registry == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.Model.Path)
	}
	payload, err := registry.LatestSnapshot(ctx, cfg.Model.Name)
	if errors.Is(err, repository.ErrSnapshotNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.Model.Name)
	}
	if err != nil {
		return nil, err
	}
	model, err := labeler.Load(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s from registry: %w", cfg.Model.Name, err)
	}
	logger.Info("Model loaded from snapshot registry", zap.String("name", cfg.Model.Name))
	return model, nil
}

// NewModel 按配置创建未训练的模型
func NewModel(cfg *config.Config) (*labeler.Model, error) {
	mc := labeler.DefaultConfig()
	mc.HiddenSize = cfg.Model.HiddenSize
	mc.Dropout = cfg.Model.Dropout
	mc.Seed = cfg.Model.Seed
	mc.SequenceLength = cfg.Model.TrainSequenceLength
	return labeler.New(mc)
}

// NewExtractor 按配置创建事件提取器
func NewExtractor(cfg *config.Config, logger *zap.Logger) *events.Extractor {
	return events.NewExtractor(logger,
		events.OutlierRemover{MinRun: cfg.Smoothing.OutlierMinRun},
		events.LocalBest{Radius: cfg.Smoothing.LocalBestRadius},
	)
}

// NewPipeline 按配置创建预测流水线（窗口长度取预测长度）
func NewPipeline(cfg *config.Config, decoder pipeline.Decoder, logger *zap.Logger) (*pipeline.Pipeline, error) {
	windower, err := window.NewWindower(cfg.Model.PredictSequenceLength)
	if err != nil {
		return nil, err
	}
	return pipeline.New(windower, decoder, NewExtractor(cfg, logger), cfg.Compute, logger)
}

// NewSeriesStore 按 SERIES_SOURCE 创建序列数据源，返回的 closer 释放额外连接
func NewSeriesStore(ctx context.Context, cfg *config.Config, db *sql.DB, logger *zap.Logger) (repository.SeriesStore, func(), error) {
	switch cfg.SeriesSource {
	case config.SeriesSourceClickHouse:
		conn, err := database.NewClickHouseConn(ctx, &cfg.ClickHouse)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewClickHouseSeriesRepository(conn, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			conn.Close()
			return nil, nil, err
		}
		closer := func() {
			if err := conn.Close(); err != nil {
				logger.Error("Error closing ClickHouse connection", zap.Error(err))
			}
		}
		return repo, closer, nil
	default:
		return repository.NewPostgresSeriesRepository(db, logger), func() {}, nil
	}
}
