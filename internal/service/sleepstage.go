package service

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-sleepstage/internal/common/database"
	"wisefido-sleepstage/internal/common/mqtt"
	rediscommon "wisefido-sleepstage/internal/common/redis"
	"wisefido-sleepstage/internal/config"
	"wisefido-sleepstage/internal/consumer"
	"wisefido-sleepstage/internal/publisher"
	"wisefido-sleepstage/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SleepStageService 睡眠分期服务
type SleepStageService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	closeSeries func()
	consumer    *consumer.StreamConsumer
}

// NewSleepStageService 创建睡眠分期服务
func NewSleepStageService(cfg *config.Config, logger *zap.Logger) (*SleepStageService, error) {
	ctx := context.Background()

	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repository.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	// 初始化Redis
	redisClient, err := connectRedis(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &SleepStageService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		closeSeries: func() {},
	}

	if err := s.init(ctx); err != nil {
		s.Stop(ctx)
		return nil, err
	}
	return s, nil
}

// connectRedis 创建 Redis 客户端并测试连接，失败时关闭客户端
func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return redisClient, nil
}

func (s *SleepStageService) init(ctx context.Context) error {
	cfg := s.config

	// 创建Repository
	seriesStore, closeSeries, err := NewSeriesStore(ctx, cfg, s.db, s.logger)
	if err != nil {
		return err
	}
	s.closeSeries = closeSeries
	eventRepo := repository.NewEventRepository(s.db, s.logger)
	snapshotRepo := repository.NewSnapshotRepository(s.db, s.logger)

	// 加载模型并创建流水线
	model, err := LoadModel(ctx, cfg, snapshotRepo, s.logger)
	if err != nil {
		return err
	}
	pipe, err := NewPipeline(cfg, model, s.logger)
	if err != nil {
		return err
	}

	// 事件推送
	pubs := publisher.Multi{publisher.NewStreamPublisher(s.redisClient, cfg.Stream.Output, s.logger)}
	if cfg.Publish.MQTTEnabled {
		s.mqttClient, err = mqtt.NewClient(&cfg.MQTT, s.logger)
		if err != nil {
			return err
		}
		pubs = append(pubs, publisher.NewMQTTPublisher(s.mqttClient, cfg.Publish.TopicPrefix, cfg.MQTT.QoS, s.logger))
	}
	if cfg.Publish.WebhookURL != "" {
		pubs = append(pubs, publisher.NewWebhookNotifier(
			cfg.Publish.WebhookURL,
			cfg.Publish.WebhookTimeout,
			cfg.Publish.WebhookRetries,
			s.logger,
		))
	}

	cache := consumer.NewEventCache(cfg, s.redisClient, s.logger)

	s.consumer = consumer.NewStreamConsumer(
		cfg,
		s.redisClient,
		seriesStore,
		pipe,
		eventRepo,
		pubs,
		cache,
		s.logger,
	)
	return nil
}

// Start 启动服务（阻塞直到 ctx 取消）
func (s *SleepStageService) Start(ctx context.Context) error {
	s.logger.Info("Starting sleep stage service components")

	// MQTT 请求桥接：<prefix>/requests -> 输入流
	if s.mqttClient != nil {
		bridge := NewRequestBridge(s.redisClient, s.config.Stream.Input, s.logger)
		topic := RequestTopic(s.config.Publish.TopicPrefix)
		if err := s.mqttClient.Subscribe(topic, s.config.MQTT.QoS, bridge.Handle); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", topic, err)
		}
		s.logger.Info("MQTT request bridge started", zap.String("topic", topic))
	}

	// 启动Stream消费者
	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stream consumer: %w", err)
	}
	return nil
}

// Stop 停止服务
func (s *SleepStageService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping sleep stage service")

	if s.consumer != nil {
		m := s.consumer.Metrics()
		s.logger.Info("Final consumer metrics",
			zap.Int64("processed", m.MessagesProcessed),
			zap.Int64("succeeded", m.MessagesSucceeded),
			zap.Int64("failed", m.MessagesFailed),
		)
	}

	// 断开MQTT
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.closeSeries != nil {
		s.closeSeries()
	}

	// 关闭Redis
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}

	// 关闭数据库
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Sleep stage service stopped")
	return nil
}
