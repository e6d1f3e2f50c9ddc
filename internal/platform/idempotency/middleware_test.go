package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gourav-1711/jewellery-backend/internal/platform/auth"
)

var fixedTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/order/create", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func assertErrorCode(t *testing.T, body []byte, code string) {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] != code {
		t.Fatalf("expected error %q, got %v", code, payload["error"])
	}
	if payload["success"] != false {
		t.Fatalf("expected success=false, got %v", payload["success"])
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"orderId":"ORD-1"}`))
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newRequest(`{"purchaseType":"direct"}`, "k-1"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newRequest(`{"purchaseType":"direct"}`, "k-1"))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", rr2.Code)
	}
	if rr2.Header().Get(ReplayHeader) != "true" {
		t.Fatalf("expected replay header")
	}
	if rr1.Header().Get(ReplayHeader) != "" {
		t.Fatalf("first response must not be marked as replay")
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("expected body %s, got %s", rr1.Body.String(), rr2.Body.String())
	}
}

func TestMiddlewareRejectsDifferentBodyForSameKey(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newRequest(`{"a":1}`, "same"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newRequest(`{"a":2}`, "same"))

	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr2.Code)
	}
	assertErrorCode(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewarePendingReservationConflicts(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Reserve(context.Background(), "busy|anonymous", requestFingerprint(newRequest(`{}`, "busy"), []byte(`{}`), "anonymous"), fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is pending")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(`{}`, "busy"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareOptionalKeyPassesThrough(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store, WithOptionalKey())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newRequest(`{}`, ""))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
	if calls != 2 || store.Len() != 0 {
		t.Fatalf("expected pass-through without records, calls=%d records=%d", calls, store.Len())
	}
}

func TestMiddlewareRequiresKeyByDefault(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without a key")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest(`{}`, ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newRequest(`{}`, "retry"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newRequest(`{}`, "retry"))

	if rr1.Code != http.StatusBadGateway || rr2.Code != http.StatusOK || calls != 2 {
		t.Fatalf("expected retry after 5xx, got %d then %d (%d calls)", rr1.Code, rr2.Code, calls)
	}
}

func TestMiddlewareScopesKeyToCaller(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for _, uid := range []string{"u1", "u2"} {
		req := newRequest(`{}`, "shared")
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", uid, rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected each caller to run the handler, got %d calls", calls)
	}
}

func TestMiddlewareIgnoresSafeMethods(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/order/my-orders", nil))
	if rr.Code != http.StatusOK || store.Len() != 0 {
		t.Fatalf("expected GET to bypass the store")
	}
}
