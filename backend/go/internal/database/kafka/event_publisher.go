package kafka

import (
	"ckd-decision-support/backend/go/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter 是 kafka.Writer 中发布事件所需的部分，便于在测试中替换。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher 把摄取、删除和推荐事件以 LogEntry 的形式写入事件主题。
type EventPublisher struct {
	writer  messageWriter
	service string
}

// NewEventPublisher 为事件主题创建一个 writer。
func NewEventPublisher(client *KafkaClient, serviceName string) *EventPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(client.Config.Brokers...),
		Topic:        client.Config.EventTopic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}
	return &EventPublisher{writer: writer, service: serviceName}
}

// Publish 发送一个事件，key 一般是文档 ID，以保证同一文档的事件有序。
func (p *EventPublisher) Publish(ctx context.Context, key, eventType string, payload map[string]interface{}) error {
	body := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["event"] = eventType
	body["occurred_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(models.LogEntry{
		ServiceName: p.service,
		TraceID:     key,
		Payload:     body,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data}); err != nil {
		return fmt.Errorf("failed to write event to kafka: %w", err)
	}
	return nil
}

// Close 关闭底层 writer。
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
