package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	"github.com/gourav-1711/jewellery-backend/internal/platform/auth"
	"github.com/gourav-1711/jewellery-backend/internal/services"
)

func newAdminRouter(h *AdminOrderHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/admin", h.Routes)
	return router
}

func TestAdminOrderHandlersRejectNonStaff(t *testing.T) {
	router := newAdminRouter(NewAdminOrderHandlers(nil, &stubOrderService{}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/admin/orders", "", "user-1"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAdminOrderHandlersListAllOrders(t *testing.T) {
	var captured services.OrderListFilter
	service := &stubOrderService{
		listAllFn: func(ctx context.Context, filter services.OrderListFilter) (services.OrderPage, error) {
			captured = filter
			return services.OrderPage{
				Items: []services.Order{{OrderID: "ORD-1", Status: domain.OrderStatusProcessing, Notes: domain.OrderNotes{Customer: "ring size 7", Internal: "fragile"}}},
				Total: 1,
				Page:  1,
				Limit: 20,
			}, nil
		},
	}
	router := newAdminRouter(NewAdminOrderHandlers(nil, service))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/admin/orders?status=processing&userId=user-9", "", "staff-1", auth.RoleStaff))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.UserID != "user-9" || captured.Limit != 20 || len(captured.Status) != 1 {
		t.Fatalf("unexpected filter %+v", captured)
	}
	var resp orderListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Orders[0].InternalNotes != "fragile" {
		t.Fatalf("expected staff view to include internal notes, got %+v", resp.Orders[0])
	}
}

func TestAdminOrderHandlersMarkShipped(t *testing.T) {
	var captured services.MarkShippedCommand
	service := &stubOrderService{
		shippedFn: func(ctx context.Context, cmd services.MarkShippedCommand) (services.Order, error) {
			captured = cmd
			shippedAt := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
			return services.Order{
				OrderID: cmd.OrderID,
				Status:  domain.OrderStatusShipped,
				Shipping: domain.Shipment{
					Carrier:        cmd.Carrier,
					TrackingNumber: cmd.TrackingNumber,
					ShippedAt:      &shippedAt,
				},
			}, nil
		},
	}
	router := newAdminRouter(NewAdminOrderHandlers(nil, service))
	body := `{"carrier":"BlueDart","trackingNumber":"BD123","estimatedDelivery":"2024-03-05"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/admin/orders/ORD-1/ship", body, "staff-1", auth.RoleAdmin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.ActorID != "staff-1" || captured.Carrier != "BlueDart" || captured.EstimatedDelivery == nil {
		t.Fatalf("unexpected command %+v", captured)
	}
	if got := captured.EstimatedDelivery.Format("2006-01-02"); got != "2024-03-05" {
		t.Fatalf("unexpected eta %s", got)
	}

	var resp orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Order.Shipping == nil || resp.Order.Shipping.TrackingNumber != "BD123" {
		t.Fatalf("unexpected shipping %+v", resp.Order.Shipping)
	}
}

func TestAdminOrderHandlersMarkShippedValidation(t *testing.T) {
	router := newAdminRouter(NewAdminOrderHandlers(nil, &stubOrderService{}))
	cases := []string{
		`{"carrier":"BlueDart"}`,
		`{"carrier":"BlueDart","trackingNumber":"BD1","estimatedDelivery":"next week"}`,
	}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(http.MethodPost, "/admin/orders/ORD-1/ship", body, "staff-1", auth.RoleStaff))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestAdminOrderHandlersTransitions(t *testing.T) {
	var processing, outForDelivery services.TransitionCommand
	service := &stubOrderService{
		processingFn: func(ctx context.Context, cmd services.TransitionCommand) (services.Order, error) {
			processing = cmd
			return services.Order{OrderID: cmd.OrderID, Status: domain.OrderStatusProcessing}, nil
		},
		outFn: func(ctx context.Context, cmd services.TransitionCommand) (services.Order, error) {
			outForDelivery = cmd
			return services.Order{}, services.ErrOrderInvalidState
		},
	}
	router := newAdminRouter(NewAdminOrderHandlers(nil, service))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/admin/orders/ORD-1/processing", "", "staff-1", auth.RoleStaff))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if processing.OrderID != "ORD-1" || processing.ActorID != "staff-1" {
		t.Fatalf("unexpected processing command %+v", processing)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/admin/orders/ORD-2/out-for-delivery", `{"note":"van 4"}`, "staff-1", auth.RoleStaff))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if outForDelivery.Note != "van 4" {
		t.Fatalf("expected note to pass through, got %+v", outForDelivery)
	}
}

func TestAdminOrderHandlersResolveReturn(t *testing.T) {
	var captured services.ResolveReturnCommand
	service := &stubOrderService{
		resolveFn: func(ctx context.Context, cmd services.ResolveReturnCommand) (services.Order, error) {
			captured = cmd
			return services.Order{OrderID: cmd.OrderID, Status: domain.OrderStatusReturned}, nil
		},
	}
	router := newAdminRouter(NewAdminOrderHandlers(nil, service))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/admin/orders/ORD-1/return", `{"decision":"keep"}`, "staff-1", auth.RoleStaff))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown decision, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/admin/orders/ORD-1/return", `{"decision":"complete","refundAmount":900}`, "staff-1", auth.RoleStaff))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Decision != services.ReturnDecisionComplete || captured.RefundAmount == nil || *captured.RefundAmount != 900 {
		t.Fatalf("unexpected command %+v", captured)
	}
}
