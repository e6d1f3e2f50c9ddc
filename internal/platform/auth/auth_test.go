package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestRequireFirebaseAuth_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "uid-123",
		Claims: map[string]any{"role": []any{"Staff", "admin", "staff"}, "email": "ops@example.com"},
	}}
	var got *Identity
	handler := NewAuthenticator(verifier, "").RequireFirebaseAuth(RoleStaff)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tkn")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if verifier.received != "tkn" {
		t.Fatalf("expected token forwarded, got %q", verifier.received)
	}
	if got == nil || got.UID != "uid-123" || got.Email != "ops@example.com" {
		t.Fatalf("unexpected identity %+v", got)
	}
	if len(got.Roles) != 2 || !got.IsStaff() {
		t.Fatalf("expected deduplicated staff roles, got %v", got.Roles)
	}
}

func TestRequireFirebaseAuth_DefaultsToUserRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "u1", Claims: map[string]any{}}}
	auth := NewAuthenticator(verifier, "")
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tkn")
	rec := httptest.NewRecorder()
	auth.RequireFirebaseAuth()(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for any authenticated user, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	auth.RequireFirebaseAuth(RoleStaff, RoleAdmin)(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for plain user on staff route, got %d", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["error"] != "insufficient_role" || body["success"] != false {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRequireFirebaseAuth_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		verifier TokenVerifier
		status   int
		code     string
	}{
		{"missing header", "", &stubTokenVerifier{}, http.StatusUnauthorized, "unauthenticated"},
		{"wrong scheme", "Basic abc", &stubTokenVerifier{}, http.StatusUnauthorized, "unauthenticated"},
		{"expired", "Bearer x", &stubTokenVerifier{err: ErrTokenExpired}, http.StatusUnauthorized, "token_expired"},
		{"invalid", "Bearer x", &stubTokenVerifier{err: errors.New("bad")}, http.StatusUnauthorized, "invalid_token"},
		{"no verifier", "Bearer x", nil, http.StatusServiceUnavailable, "auth_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewAuthenticator(tc.verifier, "").RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("next must not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if body := decodeEnvelope(t, rec); body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestSignatureHelpers(t *testing.T) {
	sig := SignHex("secret", []byte("order_1|pay_1"))
	if !VerifyHex("secret", []byte("order_1|pay_1"), sig) {
		t.Fatalf("expected signature to verify")
	}
	if VerifyHex("secret", []byte("order_1|pay_2"), sig) {
		t.Fatalf("expected mismatch for different message")
	}
	if VerifyHex("", []byte("x"), SignHex("", []byte("x"))) {
		t.Fatalf("empty secret must never verify")
	}
	if VerifyHex("secret", []byte("x"), "zz-not-hex") {
		t.Fatalf("non-hex signature must not verify")
	}
}

type oidcFixture struct {
	key      *rsa.PrivateKey
	server   *httptest.Server
	requests atomic.Int32
}

func newOIDCFixture(t *testing.T) *oidcFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &oidcFixture{key: key}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.requests.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *oidcFixture) token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestRequireOIDC(t *testing.T) {
	f := newOIDCFixture(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	validator := NewOIDCValidator(NewJWKSCache(f.server.URL, nil, clock), clock)

	var identity *ServiceIdentity
	handler := validator.RequireOIDC("https://api.example.com", []string{"https://accounts.google.com"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ = ServiceIdentityFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	base := jwt.MapClaims{
		"iss":   "https://accounts.google.com",
		"aud":   "https://api.example.com",
		"sub":   "svc-1",
		"email": "scheduler@example.iam.gserviceaccount.com",
		"exp":   now.Add(time.Hour).Unix(),
	}
	call := func(claims jwt.MapClaims) int {
		req := httptest.NewRequest(http.MethodPost, "/internal/orders:expire-pending", nil)
		req.Header.Set("Authorization", "Bearer "+f.token(t, claims))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := call(base); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if identity == nil || identity.Email != "scheduler@example.iam.gserviceaccount.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}

	mutate := func(key string, value any) jwt.MapClaims {
		out := jwt.MapClaims{}
		for k, v := range base {
			out[k] = v
		}
		out[key] = value
		return out
	}
	if code := call(mutate("aud", "other")); code != http.StatusUnauthorized {
		t.Fatalf("expected audience rejection, got %d", code)
	}
	if code := call(mutate("iss", "https://evil.example.com")); code != http.StatusUnauthorized {
		t.Fatalf("expected issuer rejection, got %d", code)
	}
	if code := call(mutate("exp", now.Add(-time.Minute).Unix())); code != http.StatusUnauthorized {
		t.Fatalf("expected expiry rejection, got %d", code)
	}
	if got := f.requests.Load(); got != 1 {
		t.Fatalf("expected jwks fetched once, got %d", got)
	}
}

func TestRequireOIDC_Unconfigured(t *testing.T) {
	handler := NewOIDCValidator(nil, nil).RequireOIDC("", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("next must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestJWKSCacheUnknownKid(t *testing.T) {
	f := newOIDCFixture(t)
	cache := NewJWKSCache(f.server.URL, nil, nil)
	if _, err := cache.Key(context.Background(), "nope"); !errors.Is(err, ErrJWKSKeyNotFound) {
		t.Fatalf("expected key not found, got %v", err)
	}
}
