package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/gourav-1711/jewellery-backend/internal/platform/auth"
)

// ProviderRazorpay is the registry name of the Razorpay adapter.
const ProviderRazorpay = "razorpay"

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayConfig configures the Razorpay adapter.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	// Orders overrides the SDK order resource, for tests.
	Orders razorpayOrderAPI
}

// RazorpayProvider talks to Razorpay orders and verifies its HMAC-SHA256 signatures.
type RazorpayProvider struct {
	keyID         string
	keySecret     string
	webhookSecret string
	orders        razorpayOrderAPI
}

var _ Provider = (*RazorpayProvider)(nil)

func NewRazorpayProvider(cfg RazorpayConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	secret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || secret == "" {
		return nil, errors.New("razorpay: key id and key secret are required")
	}
	orders := cfg.Orders
	if orders == nil {
		orders = razorpay.NewClient(keyID, secret).Order
	}
	return &RazorpayProvider{
		keyID:         keyID,
		keySecret:     secret,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		orders:        orders,
	}, nil
}

func (p *RazorpayProvider) Name() string  { return ProviderRazorpay }
func (p *RazorpayProvider) KeyID() string { return p.keyID }

// CreateOrder creates a Razorpay order. The SDK does not take a context, so cancellation is only
// observed before the call; BreakerProvider bounds the wait.
func (p *RazorpayProvider) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return GatewayOrder{}, err
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, fmt.Errorf("razorpay: amount must be positive, got %d", req.Amount)
	}
	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": strings.ToUpper(req.Currency),
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}
	raw, err := p.orders.Create(data, nil)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("razorpay: create order: %w", err)
	}
	return decodeRazorpayOrder(raw)
}

func (p *RazorpayProvider) FetchOrder(ctx context.Context, gatewayOrderID string) (GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return GatewayOrder{}, err
	}
	id := strings.TrimSpace(gatewayOrderID)
	if id == "" {
		return GatewayOrder{}, errors.New("razorpay: order id is required")
	}
	raw, err := p.orders.Fetch(id, nil, nil)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("razorpay: fetch order %s: %w", id, err)
	}
	return decodeRazorpayOrder(raw)
}

// VerifyPaymentSignature checks hex(HMAC_SHA256(keySecret, orderID + "|" + paymentID)).
func (p *RazorpayProvider) VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) bool {
	if gatewayOrderID == "" || paymentID == "" {
		return false
	}
	return auth.VerifyHex(p.keySecret, []byte(gatewayOrderID+"|"+paymentID), signature)
}

// VerifyWebhookSignature checks hex(HMAC_SHA256(webhookSecret, body)) over the raw bytes.
func (p *RazorpayProvider) VerifyWebhookSignature(body []byte, signature string) bool {
	return auth.VerifyHex(p.webhookSecret, body, signature)
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity razorpayPaymentEntity `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity razorpayRefundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type razorpayPaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorDescription string `json:"error_description"`
}

type razorpayRefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
}

func (p *RazorpayProvider) ParseWebhook(body []byte) (WebhookEvent, error) {
	var hook razorpayWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	event := WebhookEvent{Name: hook.Event, Type: WebhookIgnored}
	if pay := hook.Payload.Payment; pay != nil {
		event.GatewayOrderID = pay.Entity.OrderID
		event.PaymentID = pay.Entity.ID
		event.Amount = pay.Entity.Amount
		event.Currency = strings.ToUpper(pay.Entity.Currency)
		event.FailureReason = pay.Entity.ErrorDescription
	}
	if refund := hook.Payload.Refund; refund != nil {
		event.RefundID = refund.Entity.ID
		event.RefundAmount = refund.Entity.Amount
		if event.PaymentID == "" {
			event.PaymentID = refund.Entity.PaymentID
		}
	}
	switch hook.Event {
	case "payment.captured":
		event.Type = WebhookPaymentCaptured
	case "payment.failed":
		event.Type = WebhookPaymentFailed
	case "refund.created":
		event.Type = WebhookRefundCreated
	}
	return event, nil
}

func decodeRazorpayOrder(raw map[string]interface{}) (GatewayOrder, error) {
	id, _ := raw["id"].(string)
	if id == "" {
		return GatewayOrder{}, errors.New("razorpay: response missing order id")
	}
	order := GatewayOrder{
		ID:       id,
		Provider: ProviderRazorpay,
		Amount:   minorAmount(raw["amount"]),
		Currency: strings.ToUpper(stringValue(raw["currency"])),
		Status:   stringValue(raw["status"]),
		Receipt:  stringValue(raw["receipt"]),
	}
	order.AmountPaid = minorAmount(raw["amount_paid"])
	return order, nil
}

func minorAmount(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(math.Round(n))
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}
