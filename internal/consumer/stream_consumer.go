package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "wisefido-sleepstage/internal/common/redis"
	"wisefido-sleepstage/internal/config"
	"wisefido-sleepstage/internal/models"
	"wisefido-sleepstage/internal/publisher"
	"wisefido-sleepstage/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SeriesRequest 预测请求（消息字段 series_id，或 data 字段中的 JSON）
type SeriesRequest struct {
	SeriesID string `json:"series_id"`
}

// Runner 预测流水线（pipeline.Pipeline 实现）
type Runner interface {
	Run(ctx context.Context, series []*models.Series) ([]models.Event, error)
}

// EventStore 事件持久化（repository.EventRepository 实现）
type EventStore interface {
	SaveEvents(ctx context.Context, runID string, seriesIDs []string, events []models.Event) error
}

// StreamConsumer Redis Streams 消费者：读取预测请求、运行流水线、保存并推送事件
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	seriesStore repository.SeriesStore
	runner      Runner
	eventStore  EventStore
	publisher   publisher.Publisher
	cache       *EventCache
	logger      *zap.Logger
	metrics     *Metrics

	block time.Duration // XREADGROUP 阻塞时间
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	seriesStore repository.SeriesStore,
	runner Runner,
	eventStore EventStore,
	pub publisher.Publisher,
	cache *EventCache,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		seriesStore: seriesStore,
		runner:      runner,
		eventStore:  eventStore,
		publisher:   pub,
		cache:       cache,
		logger:      logger,
		metrics: &Metrics{
			StartTime: time.Now(),
		},
		block: 5 * time.Second,
	}
}

// Metrics 当前指标快照
func (c *StreamConsumer) Metrics() Metrics {
	return c.metrics.GetSnapshot()
}

// Start 启动消费者（阻塞直到 ctx 取消）
func (c *StreamConsumer) Start(ctx context.Context) error {
	stream := c.config.Stream.Input
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, stream, c.config.Stream.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("consumer_group", c.config.Stream.ConsumerGroup),
		zap.String("consumer_name", c.config.Stream.ConsumerName),
		zap.String("stream", stream),
	)

	metricsCtx, metricsCancel := context.WithCancel(ctx)
	defer metricsCancel()
	go c.reportMetrics(metricsCtx)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeStream(ctx, stream); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeStream 读取一批消息并逐条处理；处理后总是 XACK
func (c *StreamConsumer) consumeStream(ctx context.Context, stream string) error {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		stream,
		c.config.Stream.ConsumerGroup,
		c.config.Stream.ConsumerName,
		c.config.Stream.BatchSize,
		c.block,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		c.metrics.IncrementProcessed()
		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.Error("Failed to process message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
		if err := rediscommon.AckMessage(ctx, c.redisClient, stream, c.config.Stream.ConsumerGroup, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// parseRequest 解析预测请求
func parseRequest(msg rediscommon.StreamMessage) (*SeriesRequest, error) {
	if val, ok := msg.Values["series_id"]; ok {
		if id, ok := val.(string); ok && id != "" {
			return &SeriesRequest{SeriesID: id}, nil
		}
		return nil, fmt.Errorf("invalid series_id in message")
	}

	val, ok := msg.Values["data"]
	if !ok {
		return nil, fmt.Errorf("missing series_id or data field in message")
	}
	dataStr, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("invalid data format in message")
	}
	var req SeriesRequest
	if err := json.Unmarshal([]byte(dataStr), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message data: %w", err)
	}
	if req.SeriesID == "" {
		return nil, fmt.Errorf("series_id is required")
	}
	return &req, nil
}

// processMessage 处理单条预测请求
//
// 1. 从序列数据源读取序列
// 2. 运行预测流水线
// 3. 保存事件（替换该序列的旧事件）
// 4. 更新 Redis 缓存并推送下游
func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	startTime := time.Now()

	req, err := parseRequest(msg)
	if err != nil {
		c.metrics.IncrementFailed(errorParse)
		return err
	}

	series, err := c.seriesStore.LoadSeries(ctx, req.SeriesID)
	if err != nil {
		if errors.Is(err, repository.ErrSeriesNotFound) {
			c.metrics.IncrementSkipped()
			c.logger.Warn("Series not found",
				zap.String("series_id", req.SeriesID),
			)
			return nil
		}
		c.metrics.IncrementFailed(errorStore)
		return fmt.Errorf("failed to load series: %w", err)
	}

	result, err := c.runner.Run(ctx, []*models.Series{series})
	if err != nil {
		c.metrics.IncrementFailed(errorPipeline)
		return fmt.Errorf("failed to run pipeline for series %s: %w", req.SeriesID, err)
	}

	runID := uuid.New().String()
	if err := c.eventStore.SaveEvents(ctx, runID, []string{req.SeriesID}, result); err != nil {
		c.metrics.IncrementFailed(errorStore)
		return fmt.Errorf("failed to save events: %w", err)
	}

	batch := &publisher.EventBatch{
		RunID:       runID,
		SeriesID:    req.SeriesID,
		Events:      result,
		GeneratedAt: time.Now().UTC(),
	}
	if err := c.cache.SetEvents(ctx, batch); err != nil {
		c.logger.Warn("Failed to update events cache",
			zap.String("series_id", req.SeriesID),
			zap.Error(err),
		)
	}
	if err := c.publisher.Publish(ctx, batch); err != nil {
		c.metrics.IncrementFailed(errorPublish)
		return fmt.Errorf("failed to publish events: %w", err)
	}

	processingDuration := time.Since(startTime)
	c.metrics.IncrementSucceeded(processingDuration, len(result))

	c.logger.Info("Series labeled",
		zap.String("series_id", req.SeriesID),
		zap.String("run_id", runID),
		zap.Int("samples", len(series.Samples)),
		zap.Int("events", len(result)),
		zap.Duration("processing_time", processingDuration),
	)
	return nil
}

// reportMetrics 定期报告指标（每60秒）
func (c *StreamConsumer) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.metrics.GetSnapshot()

			var avgProcessingTime time.Duration
			if snapshot.MessagesSucceeded > 0 {
				avgProcessingTime = snapshot.TotalProcessingTime / time.Duration(snapshot.MessagesSucceeded)
			}
			successRate := float64(0)
			if snapshot.MessagesProcessed > 0 {
				successRate = float64(snapshot.MessagesSucceeded) / float64(snapshot.MessagesProcessed) * 100
			}

			c.logger.Info("Metrics report",
				zap.Int64("messages_processed", snapshot.MessagesProcessed),
				zap.Int64("messages_succeeded", snapshot.MessagesSucceeded),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Int64("messages_skipped", snapshot.MessagesSkipped),
				zap.Float64("success_rate", successRate),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_pipeline_failed", snapshot.ErrorsPipelineFailed),
				zap.Int64("errors_store_failed", snapshot.ErrorsStoreFailed),
				zap.Int64("errors_publish_failed", snapshot.ErrorsPublishFailed),
				zap.Int64("events_emitted", snapshot.EventsEmitted),
				zap.Duration("avg_processing_time", avgProcessingTime),
				zap.Duration("uptime", time.Since(snapshot.StartTime)),
			)
		}
	}
}
