package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gourav-1711/jewellery-backend/internal/platform/httpx"
	"github.com/gourav-1711/jewellery-backend/internal/services"
)

const maxExpireBatch = 500

type expirePendingRequest struct {
	Limit int `json:"limit"`
}

type expirePendingResponse struct {
	Success bool     `json:"success"`
	Expired []string `json:"expired"`
}

// InternalOrderHandlers serves scheduler callbacks. Authentication is applied by the router's
// /internal middleware.
type InternalOrderHandlers struct {
	orders services.OrderService
}

// NewInternalOrderHandlers constructs internal order handlers.
func NewInternalOrderHandlers(orders services.OrderService) *InternalOrderHandlers {
	return &InternalOrderHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders:expire-pending", h.expirePending)
}

func (h *InternalOrderHandlers) expirePending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	var req expirePendingRequest
	if !decodeRequest(w, r, &req, maxSmallBodySize, true) {
		return
	}
	if req.Limit < 0 || req.Limit > maxExpireBatch {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be between 0 and 500", http.StatusBadRequest))
		return
	}

	result, err := h.orders.ExpirePendingOrders(ctx, services.ExpirePendingCommand{Limit: req.Limit})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	expired := result.Expired
	if expired == nil {
		expired = []string{}
	}
	writeJSONResponse(w, http.StatusOK, expirePendingResponse{Success: true, Expired: expired})
}
