package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	"github.com/gourav-1711/jewellery-backend/internal/platform/auth"
	"github.com/gourav-1711/jewellery-backend/internal/platform/httpx"
	"github.com/gourav-1711/jewellery-backend/internal/platform/pagination"
	"github.com/gourav-1711/jewellery-backend/internal/services"
)

// ImageURLSigner turns stored object paths into URLs the storefront can fetch.
// *storage.ImageSigner satisfies it.
type ImageURLSigner interface {
	SignAll(ctx context.Context, objects []string) ([]string, error)
}

const verificationFailedMessage = "payment verification failed"

type orderResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Order   orderPayload `json:"order"`
}

type orderListResponse struct {
	Success     bool           `json:"success"`
	Orders      []orderPayload `json:"orders"`
	TotalPages  int            `json:"totalPages"`
	CurrentPage int            `json:"currentPage"`
	TotalOrders int            `json:"totalOrders"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	OrderID         string                `json:"orderId"`
	UserID          string                `json:"userId"`
	PurchaseType    string                `json:"purchaseType"`
	Currency        string                `json:"currency"`
	Status          string                `json:"status"`
	Items           []orderItemPayload    `json:"items"`
	Pricing         pricingPayload        `json:"pricing"`
	ShippingAddress addressPayload        `json:"shippingAddress"`
	BillingAddress  *addressPayload       `json:"billingAddress,omitempty"`
	Payment         paymentPayload        `json:"payment"`
	StatusHistory   []statusChangePayload `json:"statusHistory"`
	Shipping        *shippingPayload      `json:"shipping,omitempty"`
	Cancellation    *cancellationPayload  `json:"cancellation,omitempty"`
	Return          *returnPayload        `json:"return,omitempty"`
	Invoice         *invoicePayload       `json:"invoice,omitempty"`
	Notes           string                `json:"notes,omitempty"`
	InternalNotes   string                `json:"internalNotes,omitempty"`
	IsGift          bool                  `json:"isGift"`
	GiftMessage     string                `json:"giftMessage,omitempty"`
	GiftWrap        bool                  `json:"giftWrap"`
	CanBeCancelled  bool                  `json:"canBeCancelled"`
	CanBeReturned   bool                  `json:"canBeReturned"`
	CreatedAt       string                `json:"createdAt"`
	UpdatedAt       string                `json:"updatedAt,omitempty"`
}

type orderItemPayload struct {
	ProductID        string   `json:"productId"`
	ColorID          string   `json:"colorId,omitempty"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	SKU              string   `json:"sku,omitempty"`
	Quantity         int      `json:"quantity"`
	IsPersonalized   bool     `json:"isPersonalized"`
	PersonalizedName string   `json:"personalizedName,omitempty"`
	PriceAtPurchase  int64    `json:"priceAtPurchase"`
	Subtotal         int64    `json:"subtotal"`
	Source           string   `json:"source,omitempty"`
	Images           []string `json:"images,omitempty"`
}

type pricingPayload struct {
	Subtotal        int64  `json:"subtotal"`
	Discount        int64  `json:"discount"`
	CouponCode      string `json:"couponCode,omitempty"`
	Shipping        int64  `json:"shipping"`
	GiftWrapCharges int64  `json:"giftWrapCharges"`
	Total           int64  `json:"total"`
}

type addressPayload struct {
	FullName     string `json:"fullName"`
	Phone        string `json:"phone"`
	Email        string `json:"email,omitempty"`
	Area         string `json:"area,omitempty"`
	Street       string `json:"street,omitempty"`
	AddressLine1 string `json:"addressLine1"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
	Country      string `json:"country,omitempty"`
	Landmark     string `json:"landmark,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type paymentPayload struct {
	Method           string `json:"method,omitempty"`
	Provider         string `json:"provider,omitempty"`
	Status           string `json:"status"`
	GatewayOrderID   string `json:"razorpayOrderId,omitempty"`
	GatewayPaymentID string `json:"razorpayPaymentId,omitempty"`
	Verified         bool   `json:"verified"`
	TransactionID    string `json:"transactionId,omitempty"`
	PaidAt           string `json:"paidAt,omitempty"`
	RefundedAmount   int64  `json:"refundedAmount,omitempty"`
	RefundedAt       string `json:"refundedAt,omitempty"`
}

type statusChangePayload struct {
	Status string `json:"status"`
	At     string `json:"timestamp"`
	Note   string `json:"note,omitempty"`
	Actor  string `json:"updatedBy,omitempty"`
}

type shippingPayload struct {
	Carrier           string `json:"carrier,omitempty"`
	TrackingNumber    string `json:"trackingNumber,omitempty"`
	TrackingURL       string `json:"trackingUrl,omitempty"`
	EstimatedDelivery string `json:"estimatedDelivery,omitempty"`
	ShippedAt         string `json:"shippedAt,omitempty"`
	DeliveredAt       string `json:"deliveredAt,omitempty"`
}

type cancellationPayload struct {
	Reason       string `json:"reason,omitempty"`
	CancelledBy  string `json:"cancelledBy"`
	CancelledAt  string `json:"cancelledAt"`
	RefundStatus string `json:"refundStatus,omitempty"`
	RefundAmount int64  `json:"refundAmount"`
	RefundedAt   string `json:"refundedAt,omitempty"`
}

type returnPayload struct {
	Requested    bool   `json:"isReturnRequested"`
	Reason       string `json:"returnReason,omitempty"`
	RequestedAt  string `json:"returnRequestedAt"`
	ApprovedAt   string `json:"returnApprovedAt,omitempty"`
	Status       string `json:"returnStatus"`
	RefundAmount int64  `json:"refundAmount,omitempty"`
}

type invoicePayload struct {
	Number   string `json:"invoiceNumber"`
	IssuedAt string `json:"invoiceDate"`
}

type addressRequest struct {
	FullName     string `json:"fullName"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Area         string `json:"area"`
	Street       string `json:"street"`
	AddressLine1 string `json:"addressLine1"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
	Country      string `json:"country"`
	Landmark     string `json:"landmark"`
	Instructions string `json:"instructions"`
}

func (a *addressRequest) toDomain() domain.Address {
	if a == nil {
		return domain.Address{}
	}
	return domain.Address{
		FullName:     a.FullName,
		Phone:        a.Phone,
		Email:        a.Email,
		Area:         a.Area,
		Street:       a.Street,
		AddressLine1: a.AddressLine1,
		City:         a.City,
		State:        a.State,
		Pincode:      a.Pincode,
		Country:      a.Country,
		Landmark:     a.Landmark,
		Instructions: a.Instructions,
	}
}

// orderView carries what rendering needs beyond the order itself.
type orderView struct {
	images       ImageURLSigner
	now          time.Time
	returnWindow time.Duration
	// staff views include internal notes.
	staff bool
}

func buildOrderPayload(ctx context.Context, order services.Order, view orderView) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		OrderID:         order.OrderID,
		UserID:          order.UserID,
		PurchaseType:    string(order.PurchaseType),
		Currency:        order.Currency,
		Status:          string(order.Status),
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		StatusHistory:   make([]statusChangePayload, 0, len(order.StatusHistory)),
		Notes:           order.Notes.Customer,
		IsGift:          order.IsGift,
		GiftMessage:     order.GiftMessage,
		GiftWrap:        order.GiftWrap,
		CanBeCancelled:  order.CanBeCancelled(),
		CanBeReturned:   order.CanBeReturned(view.now, view.returnWindow),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		Pricing: pricingPayload{
			Subtotal:        order.Pricing.Subtotal,
			Discount:        order.Pricing.Discount.Amount,
			CouponCode:      order.Pricing.Discount.CouponCode,
			Shipping:        order.Pricing.Shipping,
			GiftWrapCharges: order.Pricing.GiftWrapCharges,
			Total:           order.Pricing.Total,
		},
		Payment: paymentPayload{
			Method:           string(order.Payment.Method),
			Provider:         order.Payment.Provider,
			Status:           string(order.Payment.Status),
			GatewayOrderID:   order.Payment.GatewayOrderID,
			GatewayPaymentID: order.Payment.GatewayPaymentID,
			Verified:         order.Payment.Verified,
			TransactionID:    order.Payment.TransactionID,
			PaidAt:           formatTimePtr(order.Payment.PaidAt),
			RefundedAmount:   order.Payment.RefundedAmount,
			RefundedAt:       formatTimePtr(order.Payment.RefundedAt),
		},
	}
	if view.staff {
		payload.InternalNotes = order.Notes.Internal
	}
	if !order.BillingAddress.IsZero() {
		billing := buildAddressPayload(order.BillingAddress)
		payload.BillingAddress = &billing
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:        item.ProductID,
			ColorID:          item.ColorID,
			Name:             item.Name,
			Description:      item.Description,
			SKU:              item.SKU,
			Quantity:         item.Quantity,
			IsPersonalized:   item.IsPersonalized,
			PersonalizedName: item.PersonalizedName,
			PriceAtPurchase:  item.PriceAtPurchase,
			Subtotal:         item.Subtotal,
			Source:           string(item.Source),
			Images:           signImages(ctx, view.images, item.Images),
		})
	}
	for _, change := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, statusChangePayload{
			Status: string(change.Status),
			At:     formatTime(change.At),
			Note:   change.Note,
			Actor:  string(change.Actor),
		})
	}

	ship := order.Shipping
	if ship.Carrier != "" || ship.TrackingNumber != "" || ship.ShippedAt != nil || ship.DeliveredAt != nil {
		payload.Shipping = &shippingPayload{
			Carrier:           ship.Carrier,
			TrackingNumber:    ship.TrackingNumber,
			TrackingURL:       ship.TrackingURL,
			EstimatedDelivery: formatTimePtr(ship.EstimatedDelivery),
			ShippedAt:         formatTimePtr(ship.ShippedAt),
			DeliveredAt:       formatTimePtr(ship.DeliveredAt),
		}
	}
	if c := order.Cancellation; c != nil {
		payload.Cancellation = &cancellationPayload{
			Reason:       c.Reason,
			CancelledBy:  string(c.CancelledBy),
			CancelledAt:  formatTime(c.CancelledAt),
			RefundStatus: string(c.RefundStatus),
			RefundAmount: c.RefundAmount,
			RefundedAt:   formatTimePtr(c.RefundedAt),
		}
	}
	if ret := order.Return; ret != nil {
		payload.Return = &returnPayload{
			Requested:    ret.Requested,
			Reason:       ret.Reason,
			RequestedAt:  formatTime(ret.RequestedAt),
			ApprovedAt:   formatTimePtr(ret.ApprovedAt),
			Status:       string(ret.Status),
			RefundAmount: ret.RefundAmount,
		}
	}
	if inv := order.Invoice; inv != nil {
		payload.Invoice = &invoicePayload{Number: inv.Number, IssuedAt: formatTime(inv.IssuedAt)}
	}
	return payload
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		FullName:     addr.FullName,
		Phone:        addr.Phone,
		Email:        addr.Email,
		Area:         addr.Area,
		Street:       addr.Street,
		AddressLine1: addr.AddressLine1,
		City:         addr.City,
		State:        addr.State,
		Pincode:      addr.Pincode,
		Country:      addr.Country,
		Landmark:     addr.Landmark,
		Instructions: addr.Instructions,
	}
}

// signImages falls back to the stored paths when signing fails so a storage outage does not
// hide the order.
func signImages(ctx context.Context, signer ImageURLSigner, objects []string) []string {
	if len(objects) == 0 {
		return nil
	}
	if signer == nil {
		return append([]string(nil), objects...)
	}
	signed, err := signer.SignAll(ctx, objects)
	if err != nil || len(signed) != len(objects) {
		return append([]string(nil), objects...)
	}
	return signed
}

func buildOrderList(ctx context.Context, page services.OrderPage, view orderView) orderListResponse {
	orders := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		orders = append(orders, buildOrderPayload(ctx, order, view))
	}
	return orderListResponse{
		Success:     true,
		Orders:      orders,
		TotalPages:  pagination.TotalPages(page.Total, page.Limit),
		CurrentPage: page.Page,
		TotalOrders: page.Total,
	}
}

func parseStatusFilter(values []string) ([]domain.OrderStatus, bool) {
	var out []domain.OrderStatus
	for _, part := range pagination.Values(values) {
		if part == "all" {
			continue
		}
		status := domain.OrderStatus(part)
		if !status.Valid() {
			return nil, false
		}
		out = append(out, status)
	}
	return out, true
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// decodeRequest decodes a JSON body. An empty body leaves dst untouched when optional is set.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any, limit int64, optional bool) bool {
	ctx := r.Context()
	if err := httpx.DecodeJSON(r, dst, limit); err != nil {
		if optional && errors.Is(err, httpx.ErrEmptyBody) {
			return true
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	return true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentVerificationFailed), errors.Is(err, services.ErrAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", verificationFailedMessage, http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "invalid signature", http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidOTP):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_otp", "invalid or expired delivery otp", http.StatusBadRequest))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReturnWindowClosed):
		httpx.WriteError(ctx, w, httpx.NewError("return_window_closed", "return window has closed", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrUpstream):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment gateway unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrRepositoryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}
