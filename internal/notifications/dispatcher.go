// Package notifications renders customer order messages and hands them to the email worker
// through a messaging topic.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gourav-1711/jewellery-backend/internal/platform/messaging"
	"github.com/gourav-1711/jewellery-backend/internal/services"
)

const defaultLocale = "en-IN"

// ErrNoRecipient is returned when the order carries no email address.
var ErrNoRecipient = errors.New("notifications: recipient is required")

// Email is the message consumed by the email worker.
type Email struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Text    string    `json:"text"`
	OrderID string    `json:"orderId,omitempty"`
	UserID  string    `json:"userId,omitempty"`
	QueueAt time.Time `json:"queuedAt"`
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLocale sets the BCP 47 locale used for amounts. Unparseable tags keep the default.
func WithLocale(tag string) Option {
	return func(d *Dispatcher) {
		if parsed, err := language.Parse(strings.TrimSpace(tag)); err == nil {
			d.printer = message.NewPrinter(parsed)
		}
	}
}

// WithClock overrides the queue timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithStoreName sets the brand used in subjects.
func WithStoreName(name string) Option {
	return func(d *Dispatcher) {
		if name = strings.TrimSpace(name); name != "" {
			d.store = name
		}
	}
}

// Dispatcher implements services.Notifier.
type Dispatcher struct {
	publisher messaging.Publisher
	printer   *message.Printer
	store     string
	now       func() time.Time
	newID     func() string
}

var _ services.Notifier = (*Dispatcher)(nil)

func NewDispatcher(publisher messaging.Publisher, opts ...Option) (*Dispatcher, error) {
	if publisher == nil {
		return nil, errors.New("notifications: publisher is required")
	}
	d := &Dispatcher{
		publisher: publisher,
		printer:   message.NewPrinter(language.MustParse(defaultLocale)),
		store:     "Jewellery Store",
		now:       time.Now,
		newID:     func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Notify renders n and publishes it. The OTP is only ever placed in the message body.
func (d *Dispatcher) Notify(ctx context.Context, n services.Notification) error {
	to := strings.TrimSpace(n.To)
	if to == "" {
		return fmt.Errorf("%w: order %s", ErrNoRecipient, n.OrderID)
	}
	subject, text, err := d.Render(n)
	if err != nil {
		return err
	}
	email := Email{
		ID:      d.newID(),
		Kind:    string(n.Kind),
		To:      to,
		Subject: subject,
		Text:    text,
		OrderID: n.OrderID,
		UserID:  n.UserID,
		QueueAt: d.now().UTC(),
	}
	data, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("notifications: marshal email: %w", err)
	}
	_, err = d.publisher.Publish(ctx, messaging.Message{
		Key:  n.OrderID,
		Data: data,
		Attributes: map[string]string{
			"kind":    string(n.Kind),
			"orderId": n.OrderID,
		},
	})
	if err != nil {
		return fmt.Errorf("notifications: publish %s: %w", n.Kind, err)
	}
	return nil
}

// Render returns the subject and plain-text body for n.
func (d *Dispatcher) Render(n services.Notification) (string, string, error) {
	var b strings.Builder
	name := strings.TrimSpace(n.CustomerName)
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)

	var subject string
	switch n.Kind {
	case services.NotificationOrderConfirmed:
		subject = fmt.Sprintf("%s: order %s confirmed", d.store, n.OrderID)
		fmt.Fprintf(&b, "Thank you for your purchase. Your order %s has been confirmed.\n\n", n.OrderID)
		d.writeItems(&b, n)
	case services.NotificationDeliveryOTP:
		if strings.TrimSpace(n.OTP) == "" {
			return "", "", fmt.Errorf("notifications: %s requires an otp", n.Kind)
		}
		subject = fmt.Sprintf("%s: delivery code for order %s", d.store, n.OrderID)
		fmt.Fprintf(&b, "Your delivery code for order %s is %s.\n", n.OrderID, n.OTP)
		b.WriteString("Share it with the courier only when you receive your parcel.\n")
	case services.NotificationPaymentFailed:
		subject = fmt.Sprintf("%s: payment failed for order %s", d.store, n.OrderID)
		fmt.Fprintf(&b, "We could not confirm the payment of %s for order %s.\n", d.amount(n.Total, n.Currency), n.OrderID)
		b.WriteString("No money has been taken. Please place the order again to retry.\n")
	case services.NotificationOrderCancelled:
		subject = fmt.Sprintf("%s: order %s cancelled", d.store, n.OrderID)
		fmt.Fprintf(&b, "Your order %s has been cancelled.\n", n.OrderID)
		if reason := strings.TrimSpace(n.Reason); reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", reason)
		}
		b.WriteString("Any payment taken will be refunded to the original payment method.\n")
	case services.NotificationOrderShipped:
		subject = fmt.Sprintf("%s: order %s shipped", d.store, n.OrderID)
		fmt.Fprintf(&b, "Your order %s is on its way", n.OrderID)
		if n.Carrier != "" {
			fmt.Fprintf(&b, " with %s", n.Carrier)
		}
		b.WriteString(".\n")
		if n.TrackingNumber != "" {
			fmt.Fprintf(&b, "Tracking number: %s\n", n.TrackingNumber)
		}
		if n.TrackingURL != "" {
			fmt.Fprintf(&b, "Track it here: %s\n", n.TrackingURL)
		}
	case services.NotificationOrderDelivered:
		subject = fmt.Sprintf("%s: order %s delivered", d.store, n.OrderID)
		fmt.Fprintf(&b, "Your order %s has been delivered. We hope you love it.\n", n.OrderID)
	case services.NotificationReturnUpdated:
		subject = fmt.Sprintf("%s: return update for order %s", d.store, n.OrderID)
		fmt.Fprintf(&b, "There is an update on the return for order %s", n.OrderID)
		if reason := strings.TrimSpace(n.Reason); reason != "" {
			fmt.Fprintf(&b, ": %s", reason)
		}
		b.WriteString(".\n")
	default:
		return "", "", fmt.Errorf("notifications: unknown kind %q", n.Kind)
	}
	fmt.Fprintf(&b, "\n%s\n", d.store)
	return subject, b.String(), nil
}

func (d *Dispatcher) writeItems(b *strings.Builder, n services.Notification) {
	for _, item := range n.Items {
		fmt.Fprintf(b, "  %d x %s  %s\n", item.Quantity, item.Name, d.amount(item.Subtotal, n.Currency))
	}
	fmt.Fprintf(b, "\nTotal paid: %s\n", d.amount(n.Total, n.Currency))
}

// amount formats a whole-unit amount with the currency symbol.
func (d *Dispatcher) amount(value int64, code string) string {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return fmt.Sprintf("%s %d", code, value)
	}
	return d.printer.Sprint(currency.Symbol(unit.Amount(float64(value))))
}
