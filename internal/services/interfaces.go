package services

import (
	"context"
	"time"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	"github.com/gourav-1711/jewellery-backend/internal/payments"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

// Type aliases expose domain and repository models to handlers without reversing dependency direction.
type (
	Order           = domain.Order
	OrderStatus     = domain.OrderStatus
	Address         = domain.Address
	OrderListFilter = repositories.OrderListFilter
	OrderPage       = repositories.OrderPage
)

// OrderService runs the order lifecycle: creation, payment, fulfilment, cancellation, delivery
// and returns.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntent, error)
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (VerifyPaymentResult, error)
	HandleWebhook(ctx context.Context, cmd WebhookCommand) (WebhookResult, error)

	ListOrders(ctx context.Context, filter OrderListFilter) (OrderPage, error)
	GetOrder(ctx context.Context, orderID, userID string) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	VerifyDeliveryOTP(ctx context.Context, cmd VerifyDeliveryOTPCommand) (Order, error)
	RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error)

	ListAllOrders(ctx context.Context, filter OrderListFilter) (OrderPage, error)
	GetOrderForFulfilment(ctx context.Context, orderID string) (Order, error)
	MarkProcessing(ctx context.Context, cmd TransitionCommand) (Order, error)
	MarkShipped(ctx context.Context, cmd MarkShippedCommand) (Order, error)
	MarkOutForDelivery(ctx context.Context, cmd TransitionCommand) (Order, error)
	ResolveReturn(ctx context.Context, cmd ResolveReturnCommand) (Order, error)

	ExpirePendingOrders(ctx context.Context, cmd ExpirePendingCommand) (ExpirePendingResult, error)
}

// CreateOrderCommand is the checkout request. Items must be empty for cart purchases and
// non-empty otherwise.
type CreateOrderCommand struct {
	UserID          string
	CustomerEmail   string
	PurchaseType    domain.PurchaseType
	Items           []OrderItemInput
	ShippingAddress Address
	BillingAddress  Address
	Notes           string
	IsGift          bool
	GiftMessage     string
	GiftWrap        bool
	CouponCode      string
}

// OrderItemInput is one explicitly requested line.
type OrderItemInput struct {
	ProductID        string
	ColorID          string
	Quantity         int
	IsPersonalized   bool
	PersonalizedName string
}

type CreateOrderResult struct {
	OrderID string
	Total   int64
}

type CreatePaymentIntentCommand struct {
	OrderID string
	UserID  string
}

// PaymentIntent is what the checkout widget needs. Amount is in minor units.
type PaymentIntent struct {
	GatewayOrderID string
	Provider       string
	Amount         int64
	Currency       string
	KeyID          string
	ClientSecret   string
}

type VerifyPaymentCommand struct {
	OrderID          string
	UserID           string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

type VerifyPaymentResult struct {
	OrderID     string
	Status      OrderStatus
	DeliveryOTP string
}

// WebhookCommand carries the raw body exactly as received.
type WebhookCommand struct {
	Provider  string
	Body      []byte
	Signature string
}

type WebhookResult struct {
	Event   string
	OrderID string
	Applied bool
}

type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

type VerifyDeliveryOTPCommand struct {
	OrderID string
	OTP     string
	// UserID scopes the lookup when the endpoint authenticates customers.
	UserID string
}

type RequestReturnCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

// TransitionCommand moves an order along the fulfilment path.
type TransitionCommand struct {
	OrderID string
	ActorID string
	Note    string
}

type MarkShippedCommand struct {
	OrderID           string
	ActorID           string
	Carrier           string
	TrackingNumber    string
	TrackingURL       string
	EstimatedDelivery *time.Time
	Note              string
}

// ReturnDecision is a staff action on a return request.
type ReturnDecision string

const (
	ReturnDecisionApprove  ReturnDecision = "approve"
	ReturnDecisionReject   ReturnDecision = "reject"
	ReturnDecisionComplete ReturnDecision = "complete"
)

type ResolveReturnCommand struct {
	OrderID      string
	ActorID      string
	Decision     ReturnDecision
	RefundAmount *int64
	Note         string
}

type ExpirePendingCommand struct {
	Limit int
}

type ExpirePendingResult struct {
	Expired []string
}

// PaymentGateways resolves gateway adapters. *payments.Manager satisfies it.
type PaymentGateways interface {
	ForCurrency(currency string) (payments.Provider, error)
	Get(name string) (payments.Provider, error)
}

// CouponValidator prices a coupon against the order subtotal.
type CouponValidator interface {
	ValidateCoupon(ctx context.Context, code, userID string, subtotal int64) (domain.Discount, error)
}

// ProductCacheInvalidator drops cached catalogue entries after stock changes.
type ProductCacheInvalidator interface {
	Invalidate(ctx context.Context, productIDs ...string)
}

// OrderMetrics receives workflow counters. *observability.Metrics satisfies it.
type OrderMetrics interface {
	OrderTransition(from, to string)
	PaymentOutcome(source, outcome string)
	StockOversell(productID string)
	NotificationFailure(kind string)
}

// TextSanitizer strips markup from customer supplied text.
type TextSanitizer interface {
	Sanitize(value string, limit int) string
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	UserID         string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	Total          int64
	Currency       string
	Actor          domain.Actor
	OccurredAt     time.Time
	Metadata       map[string]string
}

// NotificationKind names a customer message template.
type NotificationKind string

const (
	NotificationOrderConfirmed NotificationKind = "order_confirmed"
	NotificationDeliveryOTP    NotificationKind = "delivery_otp"
	NotificationPaymentFailed  NotificationKind = "payment_failed"
	NotificationOrderCancelled NotificationKind = "order_cancelled"
	NotificationOrderShipped   NotificationKind = "order_shipped"
	NotificationOrderDelivered NotificationKind = "order_delivered"
	NotificationReturnUpdated  NotificationKind = "return_updated"
)

// Notification is a rendered-later customer message.
type Notification struct {
	Kind           NotificationKind
	To             string
	CustomerName   string
	OrderID        string
	UserID         string
	Total          int64
	Currency       string
	OTP            string
	Reason         string
	Carrier        string
	TrackingNumber string
	TrackingURL    string
	Items          []NotificationItem
}

type NotificationItem struct {
	Name     string
	Quantity int
	Subtotal int64
}

// Notifier delivers customer notifications. Failures never roll back order state.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
