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

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "sleepstage-predict")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

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

	model, err := service.LoadModel(ctx, cfg, repository.NewSnapshotRepository(db, logger), logger)
	if err != nil {
		logger.Fatal("Failed to load model", zap.Error(err))
	}

	result, err := service.Predict(ctx, cfg, model, store, repository.NewEventRepository(db, logger), logger)
	if err != nil {
		logger.Fatal("Prediction failed", zap.Error(err))
	}

	if err := service.ExportEvents(cfg, result.Events, logger); err != nil {
		logger.Fatal("Failed to export events", zap.Error(err))
	}
}
