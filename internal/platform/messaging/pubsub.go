package messaging

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// PubSubPublisher publishes to one Pub/Sub topic.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

var _ Publisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher wraps topic. The caller owns the client; Close only stops the topic.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	return &PubSubPublisher{topic: topic}, nil
}

// Publish waits for the server to acknowledge the message.
func (p *PubSubPublisher) Publish(ctx context.Context, msg Message) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub publisher: not initialised")
	}
	attrs := make(map[string]string, len(msg.Attributes)+1)
	for k, v := range msg.Attributes {
		setAttr(attrs, k, v)
	}
	setAttr(attrs, "key", msg.Key)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topic.ID(), err)
	}
	return id, nil
}

// Close flushes pending messages.
func (p *PubSubPublisher) Close() error {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
	return nil
}
