package handlers

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	"github.com/gourav-1711/jewellery-backend/internal/payments"
	"github.com/gourav-1711/jewellery-backend/internal/platform/auth"
	"github.com/gourav-1711/jewellery-backend/internal/platform/config"
	"github.com/gourav-1711/jewellery-backend/internal/platform/httpx"
	"github.com/gourav-1711/jewellery-backend/internal/platform/observability"
	"github.com/gourav-1711/jewellery-backend/internal/platform/pagination"
	"github.com/gourav-1711/jewellery-backend/internal/services"
)

const (
	maxOrderBodySize   int64 = 64 * 1024
	maxSmallBodySize   int64 = 4 * 1024
	maxWebhookBodySize int64 = 256 * 1024

	razorpaySignatureHeader = "X-Razorpay-Signature"
	stripeSignatureHeader   = "Stripe-Signature"
)

type createOrderRequest struct {
	PurchaseType    string             `json:"purchaseType"`
	Items           []orderItemRequest `json:"items"`
	ShippingAddress *addressRequest    `json:"shippingAddress"`
	BillingAddress  *addressRequest    `json:"billingAddress"`
	Notes           string             `json:"notes"`
	IsGift          bool               `json:"isGift"`
	GiftMessage     string             `json:"giftMessage"`
	GiftWrap        bool               `json:"giftWrap"`
	CouponCode      string             `json:"couponCode"`
}

type orderItemRequest struct {
	ProductID        string `json:"productId"`
	ColorID          string `json:"colorId"`
	Quantity         int    `json:"quantity"`
	IsPersonalized   bool   `json:"isPersonalized"`
	PersonalizedName string `json:"personalizedName"`
}

type paymentIntentRequest struct {
	OrderID string `json:"orderId"`
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
	OrderID          string `json:"orderId"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type deliveryOTPRequest struct {
	OrderID string `json:"orderId"`
	OTP     string `json:"otp"`
}

type createOrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OrderID string `json:"orderId"`
	Total   int64  `json:"total"`
}

type paymentIntentResponse struct {
	Success        bool   `json:"success"`
	GatewayOrderID string `json:"razorpayOrderId"`
	Provider       string `json:"provider,omitempty"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"keyId,omitempty"`
	ClientSecret   string `json:"clientSecret,omitempty"`
}

type verifyPaymentResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	DeliveryOTP string `json:"deliveryOTP,omitempty"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// OrderHandlers serves the customer facing /order endpoints.
type OrderHandlers struct {
	authn        *auth.Authenticator
	orders       services.OrderService
	images       ImageURLSigner
	idempotency  func(http.Handler) http.Handler
	otpAuth      string
	otpLimiter   attemptLimiter
	otpLimit     int
	otpWindow    time.Duration
	returnWindow time.Duration
	clock        func() time.Time
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderImageSigner signs item image paths in responses.
func WithOrderImageSigner(signer ImageURLSigner) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.images = signer
	}
}

// WithOrderIdempotency wraps order and payment intent creation with mw. It runs after
// authentication so replays are scoped to the caller.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// WithDeliveryOTPAuth selects who may submit delivery OTPs: none, user or staff.
func WithDeliveryOTPAuth(mode string) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.otpAuth = strings.ToLower(strings.TrimSpace(mode))
	}
}

// WithDeliveryOTPRateLimit bounds OTP submissions per order and caller within window.
func WithDeliveryOTPRateLimit(limit int, window time.Duration) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.otpLimit = limit
		h.otpWindow = window
	}
}

// WithOrderReturnWindow sets the window used to report canBeReturned.
func WithOrderReturnWindow(window time.Duration) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.returnWindow = window
	}
}

// WithOrderClock overrides the clock for tests.
func WithOrderClock(clock func() time.Time) OrderHandlerOption {
	return func(h *OrderHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewOrderHandlers constructs customer order handlers. The delivery OTP endpoint is only served
// once WithDeliveryOTPAuth names a mode.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:     authn,
		orders:    orders,
		otpLimit:  defaultOTPAttemptLimit,
		otpWindow: defaultOTPAttemptWindow,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.otpLimiter = newWindowLimiter(h.otpLimit, h.otpWindow, h.clock)
	return h
}

// Routes registers the /order endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Post("/webhook", h.webhook)
	r.Post("/webhook/{provider}", h.webhook)

	switch h.otpAuth {
	case config.DeliveryOTPAuthNone, config.DeliveryOTPAuthUser, config.DeliveryOTPAuthStaff:
		r.Group(func(otp chi.Router) {
			if h.authn != nil {
				switch h.otpAuth {
				case config.DeliveryOTPAuthUser:
					otp.Use(h.authn.RequireFirebaseAuth())
				case config.DeliveryOTPAuthStaff:
					otp.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
				}
			}
			otp.Post("/verify-delivery-otp", h.verifyDeliveryOTP)
		})
	}

	r.Group(func(user chi.Router) {
		if h.authn != nil {
			user.Use(h.authn.RequireFirebaseAuth())
		}
		user.Group(func(idem chi.Router) {
			if h.idempotency != nil {
				idem.Use(h.idempotency)
			}
			idem.Post("/create", h.createOrder)
			idem.Post("/create-razorpay-order", h.createPaymentIntent)
		})
		user.Post("/verify-payment", h.verifyPayment)
		user.Get("/my-orders", h.listOrders)
		user.Get("/{orderId}", h.getOrder)
		user.Put("/{orderId}/cancel", h.cancelOrder)
		user.Post("/{orderId}/return", h.requestReturn)
	})
}

func (h *OrderHandlers) view() orderView {
	return orderView{images: h.images, now: h.clock(), returnWindow: h.returnWindow}
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeRequest(w, r, &req, maxOrderBodySize, false) {
		return
	}
	if req.ShippingAddress == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shippingAddress is required", http.StatusBadRequest))
		return
	}
	purchaseType := domain.PurchaseType(strings.ToLower(strings.TrimSpace(req.PurchaseType)))
	switch purchaseType {
	case domain.PurchaseTypeCart, domain.PurchaseTypeDirect, domain.PurchaseTypeWishlist:
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "purchaseType must be cart, direct or wishlist", http.StatusBadRequest))
		return
	}

	items := make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemInput{
			ProductID:        strings.TrimSpace(item.ProductID),
			ColorID:          strings.TrimSpace(item.ColorID),
			Quantity:         item.Quantity,
			IsPersonalized:   item.IsPersonalized,
			PersonalizedName: item.PersonalizedName,
		})
	}

	result, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:          identity.UID,
		CustomerEmail:   identity.Email,
		PurchaseType:    purchaseType,
		Items:           items,
		ShippingAddress: req.ShippingAddress.toDomain(),
		BillingAddress:  req.BillingAddress.toDomain(),
		Notes:           req.Notes,
		IsGift:          req.IsGift,
		GiftMessage:     req.GiftMessage,
		GiftWrap:        req.GiftWrap,
		CouponCode:      strings.TrimSpace(req.CouponCode),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		Success: true,
		Message: "Order created successfully",
		OrderID: result.OrderID,
		Total:   result.Total,
	})
}

func (h *OrderHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req paymentIntentRequest
	if !decodeRequest(w, r, &req, maxSmallBodySize, false) {
		return
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}

	intent, err := h.orders.CreatePaymentIntent(ctx, services.CreatePaymentIntentCommand{OrderID: orderID, UserID: identity.UID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentIntentResponse{
		Success:        true,
		GatewayOrderID: intent.GatewayOrderID,
		Provider:       intent.Provider,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		KeyID:          intent.KeyID,
		ClientSecret:   intent.ClientSecret,
	})
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req verifyPaymentRequest
	if !decodeRequest(w, r, &req, maxSmallBodySize, false) {
		return
	}
	cmd := services.VerifyPaymentCommand{
		OrderID:          strings.TrimSpace(req.OrderID),
		UserID:           identity.UID,
		GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
	}
	if cmd.OrderID == "" || cmd.GatewayOrderID == "" || cmd.GatewayPaymentID == "" || cmd.Signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId, razorpay_order_id, razorpay_payment_id and razorpay_signature are required", http.StatusBadRequest))
		return
	}

	result, err := h.orders.VerifyPayment(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, verifyPaymentResponse{
		Success:     true,
		Message:     "Payment verified successfully",
		OrderID:     result.OrderID,
		Status:      string(result.Status),
		DeliveryOTP: result.DeliveryOTP,
	})
}

// webhook answers 200 for every authentic delivery, including events it ignores, so the gateway
// stops retrying. Only storage outages ask for a retry.
func (h *OrderHandlers) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if provider == "" {
		provider = payments.ProviderRazorpay
	}
	header := razorpaySignatureHeader
	if provider == payments.ProviderStripe {
		header = stripeSignatureHeader
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read body", http.StatusBadRequest))
		return
	}
	if int64(len(body)) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	_, err = h.orders.HandleWebhook(ctx, services.WebhookCommand{
		Provider:  provider,
		Body:      body,
		Signature: strings.TrimSpace(r.Header.Get(header)),
	})
	switch {
	case err == nil:
	case errors.Is(err, services.ErrInvalidSignature), errors.Is(err, services.ErrRepositoryUnavailable):
		writeOrderError(ctx, w, err)
		return
	default:
		observability.FromContext(ctx).Warn("order webhook not applied", zap.String("provider", provider), zap.Error(err))
	}
	writeJSONResponse(w, http.StatusOK, messageResponse{Success: true})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	statuses, ok := parseStatusFilter(query["status"])
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}
	params, err := pagination.Parse(query, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID: identity.UID,
		Status: statuses,
		Page:   params.Page,
		Limit:  params.Limit,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(ctx, page, h.view()))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, identity.UID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(ctx, order, h.view())})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeRequest(w, r, &req, maxSmallBodySize, true) {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		UserID:  identity.UID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{
		Success: true,
		Message: "Order cancelled successfully",
		Order:   buildOrderPayload(ctx, order, h.view()),
	})
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeRequest(w, r, &req, maxSmallBodySize, false) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "reason is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.RequestReturn(ctx, services.RequestReturnCommand{
		OrderID: orderID,
		UserID:  identity.UID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{
		Success: true,
		Message: "Return requested successfully",
		Order:   buildOrderPayload(ctx, order, h.view()),
	})
}

func (h *OrderHandlers) verifyDeliveryOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var userID, caller string
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		caller = identity.UID
		if h.otpAuth == config.DeliveryOTPAuthUser {
			userID = identity.UID
		}
	}
	if h.otpAuth == config.DeliveryOTPAuthUser && userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if caller == "" {
		caller = clientIP(r)
	}

	var req deliveryOTPRequest
	if !decodeRequest(w, r, &req, maxSmallBodySize, false) {
		return
	}
	orderID := strings.TrimSpace(req.OrderID)
	otp := strings.TrimSpace(req.OTP)
	if orderID == "" || otp == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId and otp are required", http.StatusBadRequest))
		return
	}

	if allowed, retryAfter := h.allowOTPAttempt(orderID + "|" + caller); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many delivery otp attempts", http.StatusTooManyRequests))
		return
	}

	if _, err := h.orders.VerifyDeliveryOTP(ctx, services.VerifyDeliveryOTPCommand{
		OrderID: orderID,
		OTP:     otp,
		UserID:  userID,
	}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, messageResponse{Success: true, Message: "Order delivered successfully"})
}

func (h *OrderHandlers) allowOTPAttempt(key string) (bool, time.Duration) {
	if h.otpLimiter == nil {
		return true, 0
	}
	return h.otpLimiter.Allow(key)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if idx := strings.LastIndex(addr, ":"); idx > 0 {
		return addr[:idx]
	}
	return addr
}
