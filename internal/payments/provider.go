package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrGatewayUnavailable is returned while the circuit breaker is open or a call timed out.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrInvalidWebhook is returned when a webhook body cannot be parsed.
	ErrInvalidWebhook = errors.New("payments: invalid webhook payload")
)

// CreateOrderRequest asks the gateway for an order (Razorpay) or intent (Stripe). Amount is in
// minor units.
type CreateOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder is the gateway-side view of an order. Amounts are minor units.
type GatewayOrder struct {
	ID           string
	Provider     string
	Amount       int64
	AmountPaid   int64
	Currency     string
	Status       string
	Receipt      string
	ClientSecret string
}

// WebhookEventType is the normalised meaning of a gateway webhook.
type WebhookEventType string

const (
	WebhookPaymentCaptured WebhookEventType = "payment.captured"
	WebhookPaymentFailed   WebhookEventType = "payment.failed"
	WebhookRefundCreated   WebhookEventType = "refund.created"
	WebhookIgnored         WebhookEventType = "ignored"
)

// WebhookEvent is a parsed, provider neutral webhook.
type WebhookEvent struct {
	Type           WebhookEventType
	Name           string
	GatewayOrderID string
	PaymentID      string
	Amount         int64
	Currency       string
	RefundID       string
	RefundAmount   int64
	FailureReason  string
}

// Provider is implemented by each gateway adapter.
type Provider interface {
	Name() string
	// KeyID is the public key handed to the checkout widget.
	KeyID() string
	CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error)
	FetchOrder(ctx context.Context, gatewayOrderID string) (GatewayOrder, error)
	VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) bool
	VerifyWebhookSignature(body []byte, signature string) bool
	ParseWebhook(body []byte) (WebhookEvent, error)
}

// Manager routes payments to a provider by name or currency.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = normaliseName(provider)
	}
}

// WithCurrencyRoutes configures static currency to provider mappings, e.g. USD=stripe.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = normaliseName(v)
		}
	}
}

// NewManager registers providers under their Name. Razorpay is the default when present.
func NewManager(providers []Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{
		providers:      make(map[string]Provider, len(providers)),
		currencyRoutes: map[string]string{},
	}
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("payments: nil provider")
		}
		name := normaliseName(p.Name())
		if name == "" {
			return nil, errors.New("payments: provider without name")
		}
		if _, dup := m.providers[name]; dup {
			return nil, fmt.Errorf("payments: provider %q registered twice", name)
		}
		m.providers[name] = p
	}
	if _, ok := m.providers[ProviderRazorpay]; ok {
		m.defaultProvider = ProviderRazorpay
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	for currency, name := range m.currencyRoutes {
		if _, ok := m.providers[name]; !ok {
			return nil, fmt.Errorf("payments: currency %s routed to unknown provider %q", currency, name)
		}
	}
	return m, nil
}

// Get returns the provider registered under name.
func (m *Manager) Get(name string) (Provider, error) {
	if p, ok := m.providers[normaliseName(name)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
}

// ForCurrency resolves the provider for currency: explicit route, then default, then the only
// provider registered.
func (m *Manager) ForCurrency(currency string) (Provider, error) {
	if name, ok := m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return m.providers[name], nil
	}
	if p, ok := m.providers[m.defaultProvider]; ok {
		return p, nil
	}
	if len(m.providers) == 1 {
		for _, p := range m.providers {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no provider for currency %s", ErrUnsupportedProvider, currency)
}

// Names lists registered providers, sorted.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normaliseName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
