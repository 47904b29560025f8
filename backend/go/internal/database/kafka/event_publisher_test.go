package kafka

import (
	"ckd-decision-support/backend/go/internal/config"
	"ckd-decision-support/backend/go/internal/models"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestEventPublisher_WrapsPayloadInLogEntry(t *testing.T) {
	w := &recordingWriter{}
	p := &EventPublisher{writer: w, service: "protocol-service"}

	err := p.Publish(context.Background(), "doc-1", "protocol.ingested", map[string]interface{}{"chunks": 4})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "doc-1", string(w.msgs[0].Key))

	var entry models.LogEntry
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &entry))
	assert.Equal(t, "protocol-service", entry.ServiceName)
	assert.Equal(t, "doc-1", entry.TraceID)
	assert.Equal(t, "protocol.ingested", entry.Payload["event"])
	assert.EqualValues(t, 4, entry.Payload["chunks"])
	assert.NotEmpty(t, entry.Payload["occurred_at"])
}

func TestEventPublisher_WriteError(t *testing.T) {
	p := &EventPublisher{writer: &recordingWriter{err: errors.New("broker down")}, service: "s"}
	err := p.Publish(context.Background(), "k", "e", nil)
	assert.ErrorContains(t, err, "broker down")
}

func TestRequiredTopics_DeduplicatesAndIncludesEventTopic(t *testing.T) {
	topics := requiredTopics(&config.KafkaConfig{
		Topics:     []string{"a", "protocol_events", "", "a"},
		EventTopic: "protocol_events",
	})
	assert.Equal(t, []string{"a", "protocol_events"}, topics)
}
