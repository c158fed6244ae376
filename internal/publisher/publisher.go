// Package publisher 把预测出的事件推送给下游（Redis Streams、MQTT、Webhook）
package publisher

import (
	"context"
	"errors"
	"time"

	"wisefido-sleepstage/internal/models"
)

// EventBatch 一条序列一次预测的全部事件
type EventBatch struct {
	RunID       string         `json:"run_id"`
	SeriesID    string         `json:"series_id"`
	Events      []models.Event `json:"events"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Publisher 事件推送
type Publisher interface {
	Publish(ctx context.Context, batch *EventBatch) error
}

// Multi 依次推送到所有下游，单个失败不影响其他下游
type Multi []Publisher

// Publish 实现 Publisher
func (m Multi) Publish(ctx context.Context, batch *EventBatch) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
