package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier 以 JSON POST 推送到下游 URL，5xx 和网络错误自动重试
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookNotifier 创建 Webhook 推送
func NewWebhookNotifier(url string, timeout time.Duration, retries int, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// Publish 实现 Publisher
func (n *WebhookNotifier) Publish(ctx context.Context, batch *EventBatch) error {
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(batch).
		Post(n.url)
	if err != nil {
		n.logger.Error("Webhook call failed",
			zap.String("series_id", batch.SeriesID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.IsError() {
		n.logger.Error("Webhook returned error",
			zap.String("series_id", batch.SeriesID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("webhook error: status %d", resp.StatusCode())
	}

	n.logger.Debug("Events delivered to webhook",
		zap.String("series_id", batch.SeriesID),
		zap.Int("events", len(batch.Events)),
	)
	return nil
}
