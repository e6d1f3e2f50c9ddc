package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gourav-1711/jewellery-backend/internal/services"
)

// OrderEventMessage is the wire shape of an order event.
type OrderEventMessage struct {
	EventID        string            `json:"eventId"`
	Type           string            `json:"type"`
	OrderID        string            `json:"orderId"`
	UserID         string            `json:"userId"`
	PreviousStatus string            `json:"previousStatus,omitempty"`
	CurrentStatus  string            `json:"currentStatus"`
	Total          int64             `json:"total"`
	Currency       string            `json:"currency"`
	Actor          string            `json:"actor,omitempty"`
	OccurredAt     time.Time         `json:"occurredAt"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// OrderEventPublisher encodes services.OrderEvent values onto a Publisher. Messages are keyed by
// order id so a Kafka partition sees one order's events in order.
type OrderEventPublisher struct {
	publisher Publisher
	marshal   func(any) ([]byte, error)
	newID     func() string
}

var _ services.OrderEventPublisher = (*OrderEventPublisher)(nil)

func NewOrderEventPublisher(publisher Publisher) (*OrderEventPublisher, error) {
	if publisher == nil {
		return nil, errors.New("order event publisher: publisher is required")
	}
	return &OrderEventPublisher{
		publisher: publisher,
		marshal:   json.Marshal,
		newID:     func() string { return ulid.Make().String() },
	}, nil
}

func (p *OrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	payload := OrderEventMessage{
		EventID:        p.newID(),
		Type:           event.Type,
		OrderID:        event.OrderID,
		UserID:         event.UserID,
		PreviousStatus: string(event.PreviousStatus),
		CurrentStatus:  string(event.CurrentStatus),
		Total:          event.Total,
		Currency:       event.Currency,
		Actor:          string(event.Actor),
		OccurredAt:     occurred.UTC(),
		Metadata:       event.Metadata,
	}
	data, err := p.marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	attrs := make(map[string]string, 3)
	setAttr(attrs, "eventType", payload.Type)
	setAttr(attrs, "eventId", payload.EventID)
	setAttr(attrs, "orderId", payload.OrderID)
	if _, err := p.publisher.Publish(ctx, Message{Key: payload.OrderID, Data: data, Attributes: attrs}); err != nil {
		return fmt.Errorf("publish order event %s: %w", payload.Type, err)
	}
	return nil
}
