package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "wisefido-sleepstage/internal/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrEmptySeriesID 请求缺少 series_id
var ErrEmptySeriesID = errors.New("request missing series_id")

// RequestTopic MQTT 预测请求主题
func RequestTopic(prefix string) string {
	return prefix + "/requests"
}

// RequestBridge 把 MQTT 预测请求转发到 Redis 输入流
type RequestBridge struct {
	redisClient *redis.Client
	stream      string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewRequestBridge 创建请求桥接
func NewRequestBridge(redisClient *redis.Client, stream string, logger *zap.Logger) *RequestBridge {
	return &RequestBridge{
		redisClient: redisClient,
		stream:      stream,
		timeout:     5 * time.Second,
		logger:      logger,
	}
}

// Handle 实现 mqtt.MessageHandler，payload 形如 {"series_id": "..."}
func (b *RequestBridge) Handle(topic string, payload []byte) error {
	var req struct {
		SeriesID string `json:"series_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("failed to parse request on %s: %w", topic, err)
	}
	if req.SeriesID == "" {
		return ErrEmptySeriesID
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	id, err := rediscommon.PublishToStream(ctx, b.redisClient, b.stream, map[string]interface{}{
		"series_id": req.SeriesID,
	})
	if err != nil {
		return err
	}

	b.logger.Debug("Forwarded prediction request",
		zap.String("series_id", req.SeriesID),
		zap.String("stream", b.stream),
		zap.String("message_id", id),
	)
	return nil
}
