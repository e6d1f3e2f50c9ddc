package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKafkaWriter struct {
	written []kafka.Message
	err     error
	closed  bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherWritesKeyAndHeaders(t *testing.T) {
	writer := &fakeKafkaWriter{}
	publisher, err := NewKafkaPublisher(KafkaConfig{Topic: "order-events", Writer: writer})
	require.NoError(t, err)

	id, err := publisher.Publish(context.Background(), Message{
		Key:        "ORD-1",
		Data:       []byte(`{"type":"order.created"}`),
		Attributes: map[string]string{"eventType": "order.created", "blank": "  "},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, writer.written, 1)

	msg := writer.written[0]
	assert.Equal(t, "ORD-1", string(msg.Key))
	assert.JSONEq(t, `{"type":"order.created"}`, string(msg.Value))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, id, headers["messageId"])
	assert.Equal(t, "order.created", headers["eventType"])
	assert.NotContains(t, headers, "blank")

	require.NoError(t, publisher.Close())
	assert.True(t, writer.closed)
}

func TestKafkaPublisherWrapsWriteErrors(t *testing.T) {
	writer := &fakeKafkaWriter{err: errors.New("leader not available")}
	publisher, err := NewKafkaPublisher(KafkaConfig{Topic: "notifications", Writer: writer})
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), Message{Data: []byte("{}")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifications")
	assert.ErrorIs(t, err, writer.err)
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Topic: "orders"})
	assert.Error(t, err)
}

func TestLogPublisherReturnsID(t *testing.T) {
	publisher := NewLogPublisher(nil, "notifications")
	id, err := publisher.Publish(context.Background(), Message{Data: []byte("{}")})
	require.NoError(t, err)
	assert.Len(t, id, 26)
}
