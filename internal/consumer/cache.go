package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wisefido-sleepstage/internal/config"
	"wisefido-sleepstage/internal/publisher"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrCacheMiss 缓存中没有该序列的事件
var ErrCacheMiss = errors.New("events not cached")

// EventCache 每条序列最近一次预测的事件
type EventCache struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewEventCache 创建事件缓存
func NewEventCache(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *EventCache {
	return &EventCache{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Key 缓存键，如 vital-focus:sleep:<series_id>:events
func (c *EventCache) Key(seriesID string) string {
	return fmt.Sprintf("%s%s:events", c.config.Cache.KeyPrefix, seriesID)
}

// SetEvents 写入缓存（设置 TTL）
func (c *EventCache) SetEvents(ctx context.Context, batch *publisher.EventBatch) error {
	jsonData, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	key := c.Key(batch.SeriesID)
	ttl := time.Duration(c.config.Cache.TTL) * time.Second
	if err := c.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated events cache",
		zap.String("series_id", batch.SeriesID),
		zap.String("key", key),
	)
	return nil
}

// GetEvents 读取缓存
func (c *EventCache) GetEvents(ctx context.Context, seriesID string) (*publisher.EventBatch, error) {
	data, err := c.redisClient.Get(ctx, c.Key(seriesID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, seriesID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var batch publisher.EventBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal events: %w", err)
	}
	return &batch, nil
}
