// Package messaging publishes JSON messages to Pub/Sub, Kafka, or the process log.
package messaging

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Message is one outbound payload. Key groups related messages (Kafka partition key, Pub/Sub
// "key" attribute).
type Message struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Publisher delivers messages to a single destination and returns the broker assigned id.
type Publisher interface {
	Publish(ctx context.Context, msg Message) (string, error)
	Close() error
}

// LogPublisher writes messages to the logger instead of a broker. Used for local runs.
type LogPublisher struct {
	logger      *zap.Logger
	destination string
}

// NewLogPublisher returns a publisher that logs every message at info level.
func NewLogPublisher(logger *zap.Logger, destination string) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger, destination: strings.TrimSpace(destination)}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) (string, error) {
	id := ulid.Make().String()
	fields := []zap.Field{
		zap.String("destination", p.destination),
		zap.String("messageId", id),
		zap.ByteString("data", msg.Data),
	}
	if msg.Key != "" {
		fields = append(fields, zap.String("key", msg.Key))
	}
	if len(msg.Attributes) > 0 {
		fields = append(fields, zap.Any("attributes", msg.Attributes))
	}
	p.logger.Info("message published", fields...)
	return id, nil
}

func (p *LogPublisher) Close() error { return nil }

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
