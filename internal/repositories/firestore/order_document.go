package firestore

import (
	"time"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
)

type orderDocument struct {
	OrderID         string                `firestore:"orderId"`
	UserID          string                `firestore:"userId"`
	CustomerEmail   string                `firestore:"customerEmail,omitempty"`
	PurchaseType    string                `firestore:"purchaseType"`
	Currency        string                `firestore:"currency"`
	Items           []orderItemDocument   `firestore:"items"`
	Pricing         pricingDocument       `firestore:"pricing"`
	ShippingAddress addressDocument       `firestore:"shippingAddress"`
	BillingAddress  addressDocument       `firestore:"billingAddress"`
	Payment         paymentDocument       `firestore:"payment"`
	Status          string                `firestore:"status"`
	StatusHistory   []statusChangeDoc     `firestore:"statusHistory"`
	Shipping        shipmentDocument      `firestore:"shipping"`
	Cancellation    *cancellationDocument `firestore:"cancellation,omitempty"`
	Return          *returnDocument       `firestore:"return,omitempty"`
	Invoice         *invoiceDocument      `firestore:"invoice,omitempty"`
	Notes           notesDocument         `firestore:"notes"`
	IsGift          bool                  `firestore:"isGift"`
	GiftMessage     string                `firestore:"giftMessage,omitempty"`
	GiftWrap        bool                  `firestore:"giftWrap"`
	DeliveryOTP     *deliveryOTPDocument  `firestore:"deliveryOtp,omitempty"`
	Reservation     *reservationDocument  `firestore:"reservation,omitempty"`
	CreatedAt       time.Time             `firestore:"createdAt"`
	UpdatedAt       time.Time             `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID        string   `firestore:"productId"`
	ColorID          string   `firestore:"colorId"`
	Name             string   `firestore:"name"`
	Description      string   `firestore:"description,omitempty"`
	Quantity         int      `firestore:"quantity"`
	IsPersonalized   bool     `firestore:"isPersonalized"`
	PersonalizedName string   `firestore:"personalizedName,omitempty"`
	PriceAtPurchase  int64    `firestore:"priceAtPurchase"`
	Subtotal         int64    `firestore:"subtotal"`
	Source           string   `firestore:"source"`
	Images           []string `firestore:"images,omitempty"`
	SKU              string   `firestore:"sku,omitempty"`
}

type pricingDocument struct {
	Subtotal        int64  `firestore:"subtotal"`
	DiscountAmount  int64  `firestore:"discountAmount"`
	CouponCode      string `firestore:"couponCode,omitempty"`
	Shipping        int64  `firestore:"shipping"`
	GiftWrapCharges int64  `firestore:"giftWrapCharges"`
	Total           int64  `firestore:"total"`
}

type addressDocument struct {
	FullName     string `firestore:"fullName"`
	Phone        string `firestore:"phone"`
	Email        string `firestore:"email,omitempty"`
	Area         string `firestore:"area,omitempty"`
	Street       string `firestore:"street,omitempty"`
	AddressLine1 string `firestore:"addressLine1,omitempty"`
	City         string `firestore:"city"`
	State        string `firestore:"state"`
	Pincode      string `firestore:"pincode"`
	Country      string `firestore:"country"`
	Landmark     string `firestore:"landmark,omitempty"`
	Instructions string `firestore:"instructions,omitempty"`
}

type paymentDocument struct {
	Method           string     `firestore:"method"`
	Provider         string     `firestore:"provider,omitempty"`
	Status           string     `firestore:"status"`
	GatewayOrderID   string     `firestore:"gatewayOrderId,omitempty"`
	GatewayPaymentID string     `firestore:"gatewayPaymentId,omitempty"`
	Signature        string     `firestore:"signature,omitempty"`
	Verified         bool       `firestore:"verified"`
	TransactionID    string     `firestore:"transactionId,omitempty"`
	PaidAt           *time.Time `firestore:"paidAt,omitempty"`
	RefundID         string     `firestore:"refundId,omitempty"`
	RefundIDs        []string   `firestore:"refundIds,omitempty"`
	RefundedMinor    int64      `firestore:"refundedMinor,omitempty"`
	RefundedAmount   int64      `firestore:"refundedAmount,omitempty"`
	RefundedAt       *time.Time `firestore:"refundedAt,omitempty"`
}

type statusChangeDoc struct {
	Status string    `firestore:"status"`
	At     time.Time `firestore:"at"`
	Note   string    `firestore:"note,omitempty"`
	Actor  string    `firestore:"actor"`
}

type shipmentDocument struct {
	Carrier           string     `firestore:"carrier,omitempty"`
	TrackingNumber    string     `firestore:"trackingNumber,omitempty"`
	TrackingURL       string     `firestore:"trackingUrl,omitempty"`
	EstimatedDelivery *time.Time `firestore:"estimatedDelivery,omitempty"`
	ShippedAt         *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt       *time.Time `firestore:"deliveredAt,omitempty"`
}

type cancellationDocument struct {
	Reason       string     `firestore:"reason"`
	CancelledBy  string     `firestore:"cancelledBy"`
	CancelledAt  time.Time  `firestore:"cancelledAt"`
	RefundStatus string     `firestore:"refundStatus,omitempty"`
	RefundAmount int64      `firestore:"refundAmount"`
	RefundedAt   *time.Time `firestore:"refundedAt,omitempty"`
}

type returnDocument struct {
	Requested    bool       `firestore:"requested"`
	Reason       string     `firestore:"reason"`
	RequestedAt  time.Time  `firestore:"requestedAt"`
	ApprovedAt   *time.Time `firestore:"approvedAt,omitempty"`
	Status       string     `firestore:"status"`
	RefundAmount int64      `firestore:"refundAmount"`
}

type invoiceDocument struct {
	Number   string    `firestore:"number"`
	IssuedAt time.Time `firestore:"issuedAt"`
}

type notesDocument struct {
	Customer string `firestore:"customer,omitempty"`
	Internal string `firestore:"internal,omitempty"`
}

type deliveryOTPDocument struct {
	Code           string     `firestore:"code"`
	IssuedAt       time.Time  `firestore:"issuedAt"`
	ExpiresAt      time.Time  `firestore:"expiresAt"`
	Consumed       bool       `firestore:"consumed"`
	ConsumedAt     *time.Time `firestore:"consumedAt,omitempty"`
	FailedAttempts int        `firestore:"failedAttempts"`
}

type reservationDocument struct {
	Active    bool      `firestore:"active"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

func newOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		OrderID:         o.OrderID,
		UserID:          o.UserID,
		CustomerEmail:   o.CustomerEmail,
		PurchaseType:    string(o.PurchaseType),
		Currency:        o.Currency,
		Items:           make([]orderItemDocument, 0, len(o.Items)),
		ShippingAddress: addressDocument(o.ShippingAddress),
		BillingAddress:  addressDocument(o.BillingAddress),
		Payment: paymentDocument{
			Method:           string(o.Payment.Method),
			Provider:         o.Payment.Provider,
			Status:           string(o.Payment.Status),
			GatewayOrderID:   o.Payment.GatewayOrderID,
			GatewayPaymentID: o.Payment.GatewayPaymentID,
			Signature:        o.Payment.Signature,
			Verified:         o.Payment.Verified,
			TransactionID:    o.Payment.TransactionID,
			PaidAt:           o.Payment.PaidAt,
			RefundID:         o.Payment.RefundID,
			RefundIDs:        o.Payment.RefundIDs,
			RefundedMinor:    o.Payment.RefundedMinor,
			RefundedAmount:   o.Payment.RefundedAmount,
			RefundedAt:       o.Payment.RefundedAt,
		},
		Pricing: pricingDocument{
			Subtotal:        o.Pricing.Subtotal,
			DiscountAmount:  o.Pricing.Discount.Amount,
			CouponCode:      o.Pricing.Discount.CouponCode,
			Shipping:        o.Pricing.Shipping,
			GiftWrapCharges: o.Pricing.GiftWrapCharges,
			Total:           o.Pricing.Total,
		},
		Status:        string(o.Status),
		StatusHistory: make([]statusChangeDoc, 0, len(o.StatusHistory)),
		Shipping:      shipmentDocument(o.Shipping),
		Notes:         notesDocument(o.Notes),
		IsGift:        o.IsGift,
		GiftMessage:   o.GiftMessage,
		GiftWrap:      o.GiftWrap,
		CreatedAt:     o.CreatedAt.UTC(),
		UpdatedAt:     o.UpdatedAt.UTC(),
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:        item.ProductID,
			ColorID:          item.ColorID,
			Name:             item.Name,
			Description:      item.Description,
			Quantity:         item.Quantity,
			IsPersonalized:   item.IsPersonalized,
			PersonalizedName: item.PersonalizedName,
			PriceAtPurchase:  item.PriceAtPurchase,
			Subtotal:         item.Subtotal,
			Source:           string(item.Source),
			Images:           item.Images,
			SKU:              item.SKU,
		})
	}
	for _, change := range o.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, statusChangeDoc{
			Status: string(change.Status),
			At:     change.At.UTC(),
			Note:   change.Note,
			Actor:  string(change.Actor),
		})
	}
	if c := o.Cancellation; c != nil {
		doc.Cancellation = &cancellationDocument{
			Reason:       c.Reason,
			CancelledBy:  string(c.CancelledBy),
			CancelledAt:  c.CancelledAt,
			RefundStatus: string(c.RefundStatus),
			RefundAmount: c.RefundAmount,
			RefundedAt:   c.RefundedAt,
		}
	}
	if r := o.Return; r != nil {
		doc.Return = &returnDocument{
			Requested:    r.Requested,
			Reason:       r.Reason,
			RequestedAt:  r.RequestedAt,
			ApprovedAt:   r.ApprovedAt,
			Status:       string(r.Status),
			RefundAmount: r.RefundAmount,
		}
	}
	if inv := o.Invoice; inv != nil {
		doc.Invoice = &invoiceDocument{Number: inv.Number, IssuedAt: inv.IssuedAt}
	}
	if otp := o.DeliveryOTP; otp != nil {
		doc.DeliveryOTP = (*deliveryOTPDocument)(otp)
	}
	if res := o.Reservation; res != nil {
		doc.Reservation = &reservationDocument{Active: res.Active, ExpiresAt: res.ExpiresAt}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:              id,
		OrderID:         d.OrderID,
		UserID:          d.UserID,
		CustomerEmail:   d.CustomerEmail,
		PurchaseType:    domain.PurchaseType(d.PurchaseType),
		Currency:        d.Currency,
		Items:           make([]domain.OrderItem, 0, len(d.Items)),
		ShippingAddress: domain.Address(d.ShippingAddress),
		BillingAddress:  domain.Address(d.BillingAddress),
		Pricing: domain.Pricing{
			Subtotal:        d.Pricing.Subtotal,
			Discount:        domain.Discount{Amount: d.Pricing.DiscountAmount, CouponCode: d.Pricing.CouponCode},
			Shipping:        d.Pricing.Shipping,
			GiftWrapCharges: d.Pricing.GiftWrapCharges,
			Total:           d.Pricing.Total,
		},
		Payment: domain.Payment{
			Method:           domain.PaymentMethod(d.Payment.Method),
			Provider:         d.Payment.Provider,
			Status:           domain.PaymentStatus(d.Payment.Status),
			GatewayOrderID:   d.Payment.GatewayOrderID,
			GatewayPaymentID: d.Payment.GatewayPaymentID,
			Signature:        d.Payment.Signature,
			Verified:         d.Payment.Verified,
			TransactionID:    d.Payment.TransactionID,
			PaidAt:           d.Payment.PaidAt,
			RefundID:         d.Payment.RefundID,
			RefundIDs:        d.Payment.RefundIDs,
			RefundedMinor:    d.Payment.RefundedMinor,
			RefundedAmount:   d.Payment.RefundedAmount,
			RefundedAt:       d.Payment.RefundedAt,
		},
		Status:        domain.OrderStatus(d.Status),
		StatusHistory: make([]domain.StatusChange, 0, len(d.StatusHistory)),
		Shipping:      domain.Shipment(d.Shipping),
		Notes:         domain.OrderNotes(d.Notes),
		IsGift:        d.IsGift,
		GiftMessage:   d.GiftMessage,
		GiftWrap:      d.GiftWrap,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:        item.ProductID,
			ColorID:          item.ColorID,
			Name:             item.Name,
			Description:      item.Description,
			Quantity:         item.Quantity,
			IsPersonalized:   item.IsPersonalized,
			PersonalizedName: item.PersonalizedName,
			PriceAtPurchase:  item.PriceAtPurchase,
			Subtotal:         item.Subtotal,
			Source:           domain.PurchaseType(item.Source),
			Images:           item.Images,
			SKU:              item.SKU,
		})
	}
	for _, change := range d.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
			Status: domain.OrderStatus(change.Status),
			At:     change.At.UTC(),
			Note:   change.Note,
			Actor:  domain.Actor(change.Actor),
		})
	}
	if c := d.Cancellation; c != nil {
		order.Cancellation = &domain.Cancellation{
			Reason:       c.Reason,
			CancelledBy:  domain.Actor(c.CancelledBy),
			CancelledAt:  c.CancelledAt,
			RefundStatus: domain.RefundStatus(c.RefundStatus),
			RefundAmount: c.RefundAmount,
			RefundedAt:   c.RefundedAt,
		}
	}
	if r := d.Return; r != nil {
		order.Return = &domain.ReturnRequest{
			Requested:    r.Requested,
			Reason:       r.Reason,
			RequestedAt:  r.RequestedAt,
			ApprovedAt:   r.ApprovedAt,
			Status:       domain.ReturnStatus(r.Status),
			RefundAmount: r.RefundAmount,
		}
	}
	if inv := d.Invoice; inv != nil {
		order.Invoice = &domain.Invoice{Number: inv.Number, IssuedAt: inv.IssuedAt}
	}
	if otp := d.DeliveryOTP; otp != nil {
		order.DeliveryOTP = (*domain.DeliveryOTP)(otp)
	}
	if res := d.Reservation; res != nil {
		order.Reservation = &domain.StockReservation{Active: res.Active, ExpiresAt: res.ExpiresAt}
	}
	return order
}
