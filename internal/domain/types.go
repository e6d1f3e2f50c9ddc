package domain

import (
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was submitted and awaits payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaymentFailed indicates the payment attempt for the order failed.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	// OrderStatusConfirmed indicates payment was verified and stock committed.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the warehouse is preparing the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the parcel was handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusOutForDelivery indicates the courier is on the last mile.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered indicates the customer confirmed receipt with the delivery OTP.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before shipping.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the captured payment was refunded.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusReturned indicates a delivered order came back to the warehouse.
	OrderStatusReturned OrderStatus = "returned"
	// OrderStatusExchange indicates a delivered order is being exchanged.
	OrderStatusExchange OrderStatus = "exchange"
)

// PaymentStatus tracks the gateway-facing state of an order's payment.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// PaymentMethod lists the payment instruments a customer may use.
type PaymentMethod string

const (
	PaymentMethodRazorpay   PaymentMethod = "razorpay"
	PaymentMethodCOD        PaymentMethod = "cod"
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodNetbanking PaymentMethod = "netbanking"
	PaymentMethodWallet     PaymentMethod = "wallet"
)

// PurchaseType records where the order lines came from.
type PurchaseType string

const (
	PurchaseTypeCart     PurchaseType = "cart"
	PurchaseTypeDirect   PurchaseType = "direct"
	PurchaseTypeWishlist PurchaseType = "wishlist"
)

// Actor identifies who triggered an order mutation.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorAdmin    Actor = "admin"
	ActorSystem   Actor = "system"
	ActorGateway  Actor = "gateway"
	ActorCourier  Actor = "courier"
)

// RefundStatus tracks the refund attached to a cancellation.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusInitiated RefundStatus = "initiated"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

// ReturnStatus tracks a customer return request.
type ReturnStatus string

const (
	ReturnStatusRequested ReturnStatus = "requested"
	ReturnStatusApproved  ReturnStatus = "approved"
	ReturnStatusRejected  ReturnStatus = "rejected"
	ReturnStatusPickedUp  ReturnStatus = "picked_up"
	ReturnStatusCompleted ReturnStatus = "completed"
)

// Order is the persisted order document. Items are snapshots taken at checkout and are never
// refreshed from the catalogue afterwards.
type Order struct {
	ID              string
	OrderID         string
	UserID          string
	CustomerEmail   string
	PurchaseType    PurchaseType
	Currency        string
	Items           []OrderItem
	Pricing         Pricing
	ShippingAddress Address
	BillingAddress  Address
	Payment         Payment
	Status          OrderStatus
	StatusHistory   []StatusChange
	Shipping        Shipment
	Cancellation    *Cancellation
	Return          *ReturnRequest
	Invoice         *Invoice
	Notes           OrderNotes
	IsGift          bool
	GiftMessage     string
	GiftWrap        bool
	DeliveryOTP     *DeliveryOTP
	Reservation     *StockReservation
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is an immutable line snapshot.
type OrderItem struct {
	ProductID        string
	ColorID          string
	Name             string
	Description      string
	Quantity         int
	IsPersonalized   bool
	PersonalizedName string
	PriceAtPurchase  int64
	Subtotal         int64
	Source           PurchaseType
	Images           []string
	SKU              string
}

// Pricing holds the monetary breakdown. Amounts are whole currency units.
type Pricing struct {
	Subtotal        int64
	Discount        Discount
	Shipping        int64
	GiftWrapCharges int64
	Total           int64
}

// Discount records the coupon applied to an order.
type Discount struct {
	Amount     int64
	CouponCode string
}

// Address is a postal address as entered at checkout.
type Address struct {
	FullName     string
	Phone        string
	Email        string
	Area         string
	Street       string
	AddressLine1 string
	City         string
	State        string
	Pincode      string
	Country      string
	Landmark     string
	Instructions string
}

// IsZero reports whether no address field was supplied.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Payment tracks gateway correlation ids and payment state.
type Payment struct {
	Method           PaymentMethod
	Provider         string
	Status           PaymentStatus
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Verified         bool
	TransactionID    string
	PaidAt           *time.Time
	RefundID         string
	RefundIDs        []string
	RefundedMinor    int64
	RefundedAmount   int64
	RefundedAt       *time.Time
}

// HasRefund reports whether the gateway refund id was already applied.
func (p Payment) HasRefund(id string) bool {
	for _, applied := range p.RefundIDs {
		if applied == id {
			return true
		}
	}
	return false
}

// StatusChange is one entry of the append-only status history.
type StatusChange struct {
	Status OrderStatus
	At     time.Time
	Note   string
	Actor  Actor
}

// Shipment captures carrier details for fulfilment.
type Shipment struct {
	Carrier           string
	TrackingNumber    string
	TrackingURL       string
	EstimatedDelivery *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
}

// Cancellation records why and by whom an order was cancelled.
type Cancellation struct {
	Reason       string
	CancelledBy  Actor
	CancelledAt  time.Time
	RefundStatus RefundStatus
	RefundAmount int64
	RefundedAt   *time.Time
}

// ReturnRequest records a customer return.
type ReturnRequest struct {
	Requested    bool
	Reason       string
	RequestedAt  time.Time
	ApprovedAt   *time.Time
	Status       ReturnStatus
	RefundAmount int64
}

// Invoice is issued once an order is confirmed.
type Invoice struct {
	Number   string
	IssuedAt time.Time
}

// OrderNotes separates customer supplied text from staff notes.
type OrderNotes struct {
	Customer string
	Internal string
}

// DeliveryOTP is the one-time code the customer hands to the courier on delivery.
type DeliveryOTP struct {
	Code           string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	Consumed       bool
	ConsumedAt     *time.Time
	FailedAttempts int
}

// Expired reports whether the code can no longer be used at now.
func (o *DeliveryOTP) Expired(now time.Time) bool {
	if o == nil {
		return true
	}
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// StockReservation is the soft hold placed on variant stock while an order awaits payment.
type StockReservation struct {
	Active    bool
	ExpiresAt time.Time
}

// Product is the catalogue view consumed by the order workflow.
type Product struct {
	ID          string
	Name        string
	Description string
	SKU         string
	Price       int64
	Images      []string
	Active      bool
	Variants    []ProductVariant
	UpdatedAt   time.Time
}

// Variant returns the variant with the given id.
func (p Product) Variant(id string) (ProductVariant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return ProductVariant{}, false
}

// ProductVariant is a color option carrying its own stock counter.
type ProductVariant struct {
	ID       string
	Name     string
	Stock    int
	Reserved int
}

// Available returns stock not held by pending orders.
func (v ProductVariant) Available() int {
	return v.Stock - v.Reserved
}

// Cart is the customer's basket.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// CartItem references a product variant in the cart.
type CartItem struct {
	ProductID        string
	ColorID          string
	Quantity         int
	IsPersonalized   bool
	PersonalizedName string
}

// StockDelta adjusts a variant's counters inside an order mutation.
type StockDelta struct {
	ProductID     string
	ColorID       string
	StockDelta    int
	ReservedDelta int
}
