package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestNewRouterMountsGroups(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("jewellery_http_requests_total 1\n"))
	})
	router := NewRouter(
		WithMetricsHandler(metrics),
		WithOrderRoutes(func(r chi.Router) {
			r.Get("/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
		}),
	)

	cases := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/order/ping", http.StatusNoContent},
		{"/api/admin/orders", http.StatusNotImplemented},
		{"/api/internal/orders:expire-pending", http.StatusNotImplemented},
		{"/api/v1/order/ping", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.want, rec.Code)
		}
	}
}

func TestNewRouterNotFoundEnvelope(t *testing.T) {
	router := NewRouter()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != errorNotFoundCode || body["success"] != false {
		t.Fatalf("unexpected body %v", body)
	}
	if body["request_id"] == nil {
		t.Fatalf("expected request id in envelope")
	}
}

func TestNewRouterBasePath(t *testing.T) {
	router := NewRouter(
		WithBasePath("/shop/"),
		WithOrderRoutes(func(r chi.Router) {
			r.Get("/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
		}),
	)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/shop/order/ping", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestWindowLimiter(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter := newWindowLimiter(2, time.Minute, func() time.Time { return now })

	if ok, _ := limiter.Allow("ORD-1|a"); !ok {
		t.Fatalf("first attempt should pass")
	}
	if ok, _ := limiter.Allow("ord-1|A"); !ok {
		t.Fatalf("second attempt should pass")
	}
	ok, retry := limiter.Allow("ORD-1|a")
	if ok || retry != time.Minute {
		t.Fatalf("expected block with 1m retry, got %v %v", ok, retry)
	}
	if ok, _ := limiter.Allow("ORD-2|a"); !ok {
		t.Fatalf("other keys are independent")
	}

	now = now.Add(time.Minute)
	if ok, _ := limiter.Allow("ORD-1|a"); !ok {
		t.Fatalf("window should reset")
	}

	if newWindowLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("zero limit disables limiting")
	}
}
