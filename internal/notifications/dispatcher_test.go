package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gourav-1711/jewellery-backend/internal/platform/messaging"
	"github.com/gourav-1711/jewellery-backend/internal/services"
)

type capturePublisher struct {
	messages []messaging.Message
	err      error
}

func (c *capturePublisher) Publish(_ context.Context, msg messaging.Message) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.messages = append(c.messages, msg)
	return "msg-1", nil
}

func (c *capturePublisher) Close() error { return nil }

func newTestDispatcher(t *testing.T, pub *capturePublisher) *Dispatcher {
	t.Helper()
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	d, err := NewDispatcher(pub, WithClock(func() time.Time { return now }), WithStoreName("Gourav Jewels"))
	require.NoError(t, err)
	d.newID = func() string { return "email-1" }
	return d
}

func TestDispatcherPublishesConfirmation(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDispatcher(t, pub)

	err := d.Notify(context.Background(), services.Notification{
		Kind:         services.NotificationOrderConfirmed,
		To:           "asha@example.com",
		CustomerName: "Asha",
		OrderID:      "ORD-1-ABC",
		UserID:       "user-1",
		Total:        1250,
		Currency:     "INR",
		Items:        []services.NotificationItem{{Name: "Silver Ring", Quantity: 2, Subtotal: 1200}},
	})
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	assert.Equal(t, "ORD-1-ABC", msg.Key)
	assert.Equal(t, "order_confirmed", msg.Attributes["kind"])

	var email Email
	require.NoError(t, json.Unmarshal(msg.Data, &email))
	assert.Equal(t, "email-1", email.ID)
	assert.Equal(t, "asha@example.com", email.To)
	assert.Equal(t, "Gourav Jewels: order ORD-1-ABC confirmed", email.Subject)
	assert.Contains(t, email.Text, "Hi Asha")
	assert.Contains(t, email.Text, "2 x Silver Ring")
	assert.Regexp(t, `1,?250\.00`, email.Text)
}

func TestDispatcherDeliveryOTPRequiresCode(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDispatcher(t, pub)

	n := services.Notification{Kind: services.NotificationDeliveryOTP, To: "a@example.com", OrderID: "ORD-2"}
	require.Error(t, d.Notify(context.Background(), n))
	assert.Empty(t, pub.messages)

	n.OTP = "482913"
	require.NoError(t, d.Notify(context.Background(), n))
	var email Email
	require.NoError(t, json.Unmarshal(pub.messages[0].Data, &email))
	assert.Contains(t, email.Text, "482913")
}

func TestDispatcherRejectsMissingRecipient(t *testing.T) {
	d := newTestDispatcher(t, &capturePublisher{})
	err := d.Notify(context.Background(), services.Notification{Kind: services.NotificationOrderCancelled, OrderID: "ORD-3"})
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestDispatcherWrapsPublishError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("topic missing")}
	d := newTestDispatcher(t, pub)
	err := d.Notify(context.Background(), services.Notification{
		Kind:    services.NotificationOrderShipped,
		To:      "a@example.com",
		OrderID: "ORD-4",
		Carrier: "Delhivery",
	})
	assert.ErrorIs(t, err, pub.err)
}

func TestRenderUnknownKind(t *testing.T) {
	d := newTestDispatcher(t, &capturePublisher{})
	_, _, err := d.Render(services.Notification{Kind: "mystery"})
	assert.Error(t, err)
}

func TestRenderCancellationIncludesReason(t *testing.T) {
	d := newTestDispatcher(t, &capturePublisher{})
	subject, body, err := d.Render(services.Notification{
		Kind:    services.NotificationOrderCancelled,
		OrderID: "ORD-5",
		Reason:  "ordered twice",
	})
	require.NoError(t, err)
	assert.Equal(t, "Gourav Jewels: order ORD-5 cancelled", subject)
	assert.Contains(t, body, "Reason: ordered twice")
}
