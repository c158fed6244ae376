package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// mqttClient common/mqtt.Client 中用到的部分
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTPublisher 发布到 <prefix>/<series_id>/events（retained，订阅方总能拿到最新结果）
type MQTTPublisher struct {
	client mqttClient
	prefix string
	qos    byte
	logger *zap.Logger
}

// NewMQTTPublisher 创建 MQTT 推送
func NewMQTTPublisher(client mqttClient, prefix string, qos byte, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		prefix: prefix,
		qos:    qos,
		logger: logger,
	}
}

// Topic 序列对应的主题
func (p *MQTTPublisher) Topic(seriesID string) string {
	return fmt.Sprintf("%s/%s/events", p.prefix, seriesID)
}

// Publish 实现 Publisher
func (p *MQTTPublisher) Publish(_ context.Context, batch *EventBatch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal event batch: %w", err)
	}

	topic := p.Topic(batch.SeriesID)
	if err := p.client.Publish(topic, p.qos, true, payload); err != nil {
		return err
	}

	p.logger.Debug("Events published to MQTT",
		zap.String("topic", topic),
		zap.Int("events", len(batch.Events)),
	)
	return nil
}
