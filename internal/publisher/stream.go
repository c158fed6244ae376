package publisher

import (
	"context"
	"fmt"

	rediscommon "wisefido-sleepstage/internal/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamPublisher 发布到 Redis Streams（字段 data 为 JSON）
type StreamPublisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewStreamPublisher 创建 Redis Streams 推送
func NewStreamPublisher(client *redis.Client, stream string, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// Publish 实现 Publisher
func (p *StreamPublisher) Publish(ctx context.Context, batch *EventBatch) error {
	id, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, batch)
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
	}

	p.logger.Debug("Events published to stream",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("series_id", batch.SeriesID),
	)
	return nil
}
