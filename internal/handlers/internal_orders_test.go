package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/gourav-1711/jewellery-backend/internal/services"
)

func TestInternalOrderHandlersExpirePending(t *testing.T) {
	var captured services.ExpirePendingCommand
	service := &stubOrderService{
		expireFn: func(ctx context.Context, cmd services.ExpirePendingCommand) (services.ExpirePendingResult, error) {
			captured = cmd
			return services.ExpirePendingResult{Expired: []string{"ORD-1", "ORD-2"}}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalOrderHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/orders:expire-pending", strings.NewReader(`{"limit":50}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Limit != 50 {
		t.Fatalf("unexpected limit %d", captured.Limit)
	}
	var resp expirePendingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || len(resp.Expired) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestInternalOrderHandlersExpirePendingEmptyBody(t *testing.T) {
	service := &stubOrderService{
		expireFn: func(ctx context.Context, cmd services.ExpirePendingCommand) (services.ExpirePendingResult, error) {
			return services.ExpirePendingResult{}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalOrderHandlers(service).Routes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/orders:expire-pending", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"expired":[]`) {
		t.Fatalf("expected empty expired list, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/orders:expire-pending", strings.NewReader(`{"limit":100000}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized batch, got %d", rec.Code)
	}
}
