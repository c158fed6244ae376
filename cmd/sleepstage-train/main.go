package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"wisefido-sleepstage/internal/common/database"
	logpkg "wisefido-sleepstage/internal/common/logger"
	"wisefido-sleepstage/internal/config"
	"wisefido-sleepstage/internal/repository"
	"wisefido-sleepstage/internal/service"
	"wisefido-sleepstage/internal/train"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "sleepstage-train")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 中断时停止训练，已保存的最佳快照保留
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	if err := repository.EnsureSchema(ctx, db); err != nil {
		logger.Fatal("Failed to ensure schema", zap.Error(err))
	}

	store, closeSeries, err := service.NewSeriesStore(ctx, cfg, db, logger)
	if err != nil {
		logger.Fatal("Failed to create series store", zap.Error(err))
	}
	defer closeSeries()

	logger.Info("Starting training",
		zap.String("series_source", cfg.SeriesSource),
		zap.Int("sequence_length", cfg.Model.TrainSequenceLength),
		zap.Int("epochs", cfg.Train.Epochs),
		zap.Int("batch_size", cfg.Train.BatchSize),
		zap.Float64("learning_rate", cfg.Train.LearningRate),
	)

	result, err := service.Train(ctx, cfg, store, logger,
		train.FileSink{Path: cfg.Model.Path},
		train.StoreSink{Name: cfg.Model.Name, Store: repository.NewSnapshotRepository(db, logger)},
	)
	if err != nil {
		logger.Fatal("Training failed", zap.Error(err))
	}

	logger.Info("Training finished",
		zap.Float64("best_f1", result.BestF1),
		zap.Int("best_epoch", result.BestEpoch),
		zap.String("model_path", cfg.Model.Path),
	)
}
