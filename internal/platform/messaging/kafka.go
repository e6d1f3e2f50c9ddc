package messaging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const defaultKafkaRetries = 3

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Logger  *zap.Logger
	// Writer overrides the kafka-go writer, for tests.
	Writer kafkaWriter
}

// KafkaPublisher writes synchronously to one Kafka topic.
type KafkaPublisher struct {
	writer kafkaWriter
	topic  string
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}
	writer := cfg.Writer
	if writer == nil {
		if len(cfg.Brokers) == 0 {
			return nil, errors.New("kafka publisher: at least one broker is required")
		}
		logger := cfg.Logger
		if logger == nil {
			logger = zap.NewNop()
		}
		writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  defaultKafkaRetries,
			BatchTimeout: 10 * time.Millisecond,
			Transport: &kafka.Transport{
				Dial: (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			},
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				logger.Warn(fmt.Sprintf("kafka writer: "+msg, args...), zap.String("topic", topic))
			}),
		}
	}
	return &KafkaPublisher{writer: writer, topic: topic}, nil
}

// Publish blocks until the brokers acknowledge the write. Kafka does not hand back an offset on
// the writer API, so the returned id is generated locally and sent as the "messageId" header.
func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) (string, error) {
	if p == nil || p.writer == nil {
		return "", errors.New("kafka publisher: not initialised")
	}
	id := ulid.Make().String()
	headers := []kafka.Header{{Key: "messageId", Value: []byte(id)}}
	keys := make([]string, 0, len(msg.Attributes))
	for k := range msg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(msg.Attributes[k]); v != "" {
			headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
		}
	}
	record := kafka.Message{
		Value:   msg.Data,
		Headers: headers,
	}
	if msg.Key != "" {
		record.Key = []byte(msg.Key)
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return id, nil
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
