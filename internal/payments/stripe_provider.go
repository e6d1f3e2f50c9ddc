package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/gourav-1711/jewellery-backend/internal/platform/auth"
)

// ProviderStripe is the registry name of the Stripe adapter.
const ProviderStripe = "stripe"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey         string
	PublishableKey string
	SigningSecret  string
	Backends       *stripe.Backends
	Logger         StripeLogger
	// Intents overrides the SDK payment intent client, for tests.
	Intents stripePaymentIntentAPI
}

// StripeProvider maps gateway orders onto Stripe PaymentIntents for non-INR currencies.
type StripeProvider struct {
	intents        stripePaymentIntentAPI
	publishableKey string
	signingSecret  string
	logger         StripeLogger
}

var _ Provider = (*StripeProvider)(nil)

func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}
	intents := cfg.Intents
	if intents == nil {
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeProvider{
		intents:        intents,
		publishableKey: strings.TrimSpace(cfg.PublishableKey),
		signingSecret:  strings.TrimSpace(cfg.SigningSecret),
		logger:         logger,
	}, nil
}

func (p *StripeProvider) Name() string  { return ProviderStripe }
func (p *StripeProvider) KeyID() string { return p.publishableKey }

func (p *StripeProvider) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, fmt.Errorf("stripe: amount must be positive, got %d", req.Amount)
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		params.SetIdempotencyKey("intent:" + receipt)
		params.AddMetadata("orderId", receipt)
	}
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"currency":      intent.Currency,
	})
	order := stripeGatewayOrder(intent)
	order.Receipt = req.Receipt
	return order, nil
}

func (p *StripeProvider) FetchOrder(ctx context.Context, gatewayOrderID string) (GatewayOrder, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.intents.Get(gatewayOrderID, params)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("stripe: fetch payment intent: %w", err)
	}
	return stripeGatewayOrder(intent), nil
}

// VerifyPaymentSignature checks the client callback signature hex(HMAC_SHA256(signingSecret,
// intentID + "|" + chargeID)).
func (p *StripeProvider) VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) bool {
	if gatewayOrderID == "" || paymentID == "" {
		return false
	}
	return auth.VerifyHex(p.signingSecret, []byte(gatewayOrderID+"|"+paymentID), signature)
}

// VerifyWebhookSignature validates a Stripe-Signature header against the raw body.
func (p *StripeProvider) VerifyWebhookSignature(body []byte, signature string) bool {
	if p.signingSecret == "" || signature == "" {
		return false
	}
	return webhook.ValidatePayload(body, signature, p.signingSecret) == nil
}

func (p *StripeProvider) ParseWebhook(body []byte) (WebhookEvent, error) {
	var ev stripe.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	event := WebhookEvent{Name: string(ev.Type), Type: WebhookIgnored}
	if ev.Data == nil {
		return event, nil
	}

	switch string(ev.Type) {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		event.GatewayOrderID = intent.ID
		event.Amount = intent.Amount
		event.Currency = strings.ToUpper(string(intent.Currency))
		if intent.LatestCharge != nil {
			event.PaymentID = intent.LatestCharge.ID
		}
		event.Type = WebhookPaymentCaptured
		if string(ev.Type) == "payment_intent.payment_failed" {
			event.Type = WebhookPaymentFailed
			if intent.LastPaymentError != nil {
				event.FailureReason = intent.LastPaymentError.Msg
			}
		}
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &charge); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		if charge.PaymentIntent != nil {
			event.GatewayOrderID = charge.PaymentIntent.ID
		}
		event.PaymentID = charge.ID
		event.Amount = charge.Amount
		event.Currency = strings.ToUpper(string(charge.Currency))
		event.RefundAmount = charge.AmountRefunded
		if charge.Refunds != nil && len(charge.Refunds.Data) > 0 {
			event.RefundID = charge.Refunds.Data[0].ID
		}
		event.Type = WebhookRefundCreated
	}
	return event, nil
}

func stripeGatewayOrder(intent *stripe.PaymentIntent) GatewayOrder {
	if intent == nil {
		return GatewayOrder{Provider: ProviderStripe}
	}
	return GatewayOrder{
		ID:           intent.ID,
		Provider:     ProviderStripe,
		Amount:       intent.Amount,
		AmountPaid:   intent.AmountReceived,
		Currency:     strings.ToUpper(string(intent.Currency)),
		Status:       string(intent.Status),
		Receipt:      intent.Metadata["orderId"],
		ClientSecret: intent.ClientSecret,
	}
}
