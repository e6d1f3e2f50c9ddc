package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/gourav-1711/jewellery-backend/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "role"
	defaultVerifyTimeout = 5 * time.Second
)

// ErrTokenExpired and ErrTokenInvalid let verifiers signal failures without the Admin SDK.
var (
	ErrTokenExpired = errors.New("auth: id token expired")
	ErrTokenInvalid = errors.New("auth: id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
}

// NewAuthenticator wraps verifier. An empty roleClaim defaults to "role".
func NewAuthenticator(verifier TokenVerifier, roleClaim string) *Authenticator {
	roleClaim = strings.TrimSpace(roleClaim)
	if roleClaim == "" {
		roleClaim = defaultRoleClaim
	}
	return &Authenticator{verifier: verifier, roleClaim: roleClaim}
}

// RequireFirebaseAuth rejects requests without a valid token. When roles are given the identity
// must hold one of them; tokens without a role claim are treated as RoleUser.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			allowed = append(allowed, role)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				writeAuthError(ctx, w, http.StatusServiceUnavailable, "auth_unavailable", "authorization service unavailable")
				return
			}
			decoded, err := a.verifier.VerifyIDToken(ctx, token)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) || firebaseauth.IsIDTokenExpired(err) {
					writeAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "id token expired")
					return
				}
				writeAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "id token verification failed")
				return
			}

			identity := &Identity{
				UID:   decoded.UID,
				Email: stringClaim(decoded.Claims, "email"),
				Roles: rolesFromClaim(decoded.Claims[a.roleClaim]),
			}
			if len(identity.Roles) == 0 {
				identity.Roles = []string{RoleUser}
			}
			if len(allowed) > 0 && !identity.HasAnyRole(allowed...) {
				writeAuthError(ctx, w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func rolesFromClaim(raw any) []string {
	var out []string
	add := func(role string) {
		role = normaliseRole(role)
		if role == "" {
			return
		}
		for _, existing := range out {
			if existing == role {
				return
			}
		}
		out = append(out, role)
	}
	switch v := raw.(type) {
	case string:
		add(v)
	case []string:
		for _, item := range v {
			add(item)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case map[string]any:
		for key, flag := range v {
			if enabled, ok := flag.(bool); ok && enabled {
				add(key)
			}
		}
	}
	return out
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
