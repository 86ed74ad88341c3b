package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/response"
	"github.com/sandeepkv93/icc-admin-auth/internal/observability"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
	"github.com/sandeepkv93/icc-admin-auth/internal/service"
)

type contextKey string

const (
	PrincipalContextKey contextKey = "principal"
)

// AuthMode selects what happens when no valid session is presented.
type AuthMode int

const (
	// SoftAuth lets the request through anonymously.
	SoftAuth AuthMode = iota
	// HardAuth rejects the request with 401.
	HardAuth
)

// Principal is the authenticated admin attached to the request context.
type Principal struct {
	UserID            uint               `json:"userId"`
	Email             string             `json:"email"`
	Role              domain.Role        `json:"role"`
	Permissions       domain.Permissions `json:"permissions"`
	SessionID         string             `json:"sessionId"`
	TwoFactorVerified bool               `json:"twoFactorVerified"`
}

// AccessToken returns the access token from the auth cookie, falling back to a bearer header.
func AccessToken(r *http.Request) (string, string) {
	if raw := security.CookieValue(r, security.AccessCookieName); raw != "" {
		return raw, "cookie"
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:]), "bearer"
	}
	return "", "none"
}

func Authenticate(sessions service.SessionServiceInterface, cookies security.CookiePolicy, mode AuthMode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := AccessToken(r)
			if raw == "" {
				if mode == HardAuth {
					response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			rec, err := sessions.VerifySession(r.Context(), raw)
			if err != nil {
				observability.RecordSessionEvent("verify_failed")
				if source == "cookie" {
					cookies.ClearAuthCookies(w, r)
				}
				if mode == HardAuth {
					response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired session", nil)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			p := &Principal{
				UserID:            rec.OwnerID,
				Email:             rec.Email,
				Role:              rec.Role,
				Permissions:       rec.Permissions,
				SessionID:         rec.SessionID,
				TwoFactorVerified: rec.TwoFactorVerified,
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAuth rejects requests that reached it without a principal.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*Principal)
	return p, ok && p != nil
}
