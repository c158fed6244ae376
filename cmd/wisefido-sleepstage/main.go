package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	logpkg "wisefido-sleepstage/internal/common/logger"
	"wisefido-sleepstage/internal/config"
	"wisefido-sleepstage/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-sleepstage")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting wisefido-sleepstage service",
		zap.String("version", "1.0.0"),
		zap.String("input_stream", cfg.Stream.Input),
		zap.String("output_stream", cfg.Stream.Output),
		zap.String("series_source", cfg.SeriesSource),
		zap.String("model", cfg.Model.Name),
		zap.Int("sequence_length", cfg.Model.PredictSequenceLength),
		zap.Int("workers", cfg.Compute.Workers),
	)

	// 创建服务
	sleepService, err := service.NewSleepStageService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create sleep stage service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 在 goroutine 中启动服务
	go func() {
		if err := sleepService.Start(ctx); err != nil {
			logger.Fatal("Failed to start sleep stage service", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := sleepService.Stop(ctx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}
