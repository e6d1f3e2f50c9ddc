package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gourav-1711/jewellery-backend/internal/platform/auth"
	"github.com/gourav-1711/jewellery-backend/internal/platform/httpx"
	"github.com/gourav-1711/jewellery-backend/internal/platform/pagination"
	"github.com/gourav-1711/jewellery-backend/internal/services"
)

type transitionRequest struct {
	Note string `json:"note"`
}

type shipOrderRequest struct {
	Carrier           string `json:"carrier"`
	TrackingNumber    string `json:"trackingNumber"`
	TrackingURL       string `json:"trackingUrl"`
	EstimatedDelivery string `json:"estimatedDelivery"`
	Note              string `json:"note"`
}

type resolveReturnRequest struct {
	Decision     string `json:"decision"`
	RefundAmount *int64 `json:"refundAmount"`
	Note         string `json:"note"`
}

// AdminOrderHandlers exposes fulfilment endpoints to staff.
type AdminOrderHandlers struct {
	authn        *auth.Authenticator
	orders       services.OrderService
	images       ImageURLSigner
	returnWindow time.Duration
	clock        func() time.Time
}

// AdminOrderHandlerOption customises AdminOrderHandlers.
type AdminOrderHandlerOption func(*AdminOrderHandlers)

// WithAdminOrderImageSigner signs item image paths in responses.
func WithAdminOrderImageSigner(signer ImageURLSigner) AdminOrderHandlerOption {
	return func(h *AdminOrderHandlers) {
		h.images = signer
	}
}

// WithAdminOrderReturnWindow sets the window used to report canBeReturned.
func WithAdminOrderReturnWindow(window time.Duration) AdminOrderHandlerOption {
	return func(h *AdminOrderHandlers) {
		h.returnWindow = window
	}
}

// WithAdminOrderClock overrides the clock for tests.
func WithAdminOrderClock(clock func() time.Time) AdminOrderHandlerOption {
	return func(h *AdminOrderHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewAdminOrderHandlers constructs staff order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...AdminOrderHandlerOption) *AdminOrderHandlers {
	h := &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Route("/orders", func(rt chi.Router) {
		rt.Get("/", h.listOrders)
		rt.Get("/{orderId}", h.getOrder)
		rt.Post("/{orderId}/processing", h.markProcessing)
		rt.Post("/{orderId}/ship", h.markShipped)
		rt.Post("/{orderId}/out-for-delivery", h.markOutForDelivery)
		rt.Post("/{orderId}/return", h.resolveReturn)
	})
}

func (h *AdminOrderHandlers) view() orderView {
	return orderView{images: h.images, now: h.clock(), returnWindow: h.returnWindow, staff: true}
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	if _, ok := requireStaff(ctx, w); !ok {
		return
	}

	query := r.URL.Query()
	statuses, ok := parseStatusFilter(query["status"])
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}
	params, err := pagination.Parse(query, pagination.Options{DefaultLimit: 20})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListAllOrders(ctx, services.OrderListFilter{
		UserID: strings.TrimSpace(query.Get("userId")),
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

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	if _, ok := requireStaff(ctx, w); !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrderForFulfilment(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(ctx, order, h.view())})
}

func (h *AdminOrderHandlers) markProcessing(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeServiceUnavailable(r.Context(), w)
		return
	}
	h.transition(w, r, h.orders.MarkProcessing)
}

func (h *AdminOrderHandlers) markOutForDelivery(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeServiceUnavailable(r.Context(), w)
		return
	}
	h.transition(w, r, h.orders.MarkOutForDelivery)
}

func (h *AdminOrderHandlers) transition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, cmd services.TransitionCommand) (services.Order, error)) {
	ctx := r.Context()
	identity, ok := requireStaff(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeRequest(w, r, &req, maxSmallBodySize, true) {
		return
	}
	order, err := apply(ctx, services.TransitionCommand{
		OrderID: orderID,
		ActorID: identity.UID,
		Note:    req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(ctx, order, h.view())})
}

func (h *AdminOrderHandlers) markShipped(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireStaff(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req shipOrderRequest
	if !decodeRequest(w, r, &req, maxSmallBodySize, false) {
		return
	}
	if strings.TrimSpace(req.Carrier) == "" || strings.TrimSpace(req.TrackingNumber) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "carrier and trackingNumber are required", http.StatusBadRequest))
		return
	}
	var eta *time.Time
	if raw := strings.TrimSpace(req.EstimatedDelivery); raw != "" {
		parsed, err := parseDateParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimatedDelivery must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
			return
		}
		eta = &parsed
	}

	order, err := h.orders.MarkShipped(ctx, services.MarkShippedCommand{
		OrderID:           orderID,
		ActorID:           identity.UID,
		Carrier:           strings.TrimSpace(req.Carrier),
		TrackingNumber:    strings.TrimSpace(req.TrackingNumber),
		TrackingURL:       strings.TrimSpace(req.TrackingURL),
		EstimatedDelivery: eta,
		Note:              req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(ctx, order, h.view())})
}

func (h *AdminOrderHandlers) resolveReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireStaff(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req resolveReturnRequest
	if !decodeRequest(w, r, &req, maxSmallBodySize, false) {
		return
	}
	decision := services.ReturnDecision(strings.ToLower(strings.TrimSpace(req.Decision)))
	switch decision {
	case services.ReturnDecisionApprove, services.ReturnDecisionReject, services.ReturnDecisionComplete:
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "decision must be approve, reject or complete", http.StatusBadRequest))
		return
	}
	if req.RefundAmount != nil && *req.RefundAmount < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "refundAmount must not be negative", http.StatusBadRequest))
		return
	}

	order, err := h.orders.ResolveReturn(ctx, services.ResolveReturnCommand{
		OrderID:      orderID,
		ActorID:      identity.UID,
		Decision:     decision,
		RefundAmount: req.RefundAmount,
		Note:         req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Success: true, Order: buildOrderPayload(ctx, order, h.view())})
}

func requireStaff(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return nil, false
	}
	if !identity.IsStaff() {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "staff role required", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func parseDateParam(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
