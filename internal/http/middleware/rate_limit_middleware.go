package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sandeepkv93/icc-admin-auth/internal/http/response"
	"github.com/sandeepkv93/icc-admin-auth/internal/observability"
	"github.com/sandeepkv93/icc-admin-auth/internal/service"
)

// ClientIP is the request's remote host. chi's RealIP runs first, so proxy
// headers are already folded into RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit gates a route on limiter, keyed by the client id of the caller.
// A store failure denies the request.
func RateLimit(limiter *service.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			policy := limiter.Policy()
			clientID := limiter.Whitelist().ClientID(ClientIP(r), r.UserAgent())
			decision, err := limiter.IsAllowed(r.Context(), clientID)
			if err != nil {
				observability.RecordRateLimitDecision(policy.Name, "backend_error")
				slog.WarnContext(r.Context(), "rate limiter backend unavailable, denying request",
					"policy", policy.Name,
					"error", err.Error(),
				)
				maxAttempts, window := limiter.EffectiveLimits()
				writeRateLimitHeaders(w.Header(), maxAttempts, 0, time.Now().Add(window))
				w.Header().Set("Retry-After", retryAfterHeader(window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable", nil)
				return
			}
			if !decision.Allowed {
				WriteRateLimitRejection(w, r, decision)
				return
			}
			writeRateLimitHeaders(w.Header(), decision.Limit, decision.Remaining, decision.ResetAt)
			next.ServeHTTP(w, r)
		})
	}
}

// WriteRateLimitRejection writes the 429 envelope with limit and retry headers for a denied decision.
func WriteRateLimitRejection(w http.ResponseWriter, r *http.Request, decision service.RateLimitDecision) {
	writeRateLimitHeaders(w.Header(), decision.Limit, 0, decision.ResetAt)
	retry := decision.RetryAfter(time.Now())
	w.Header().Set("Retry-After", retryAfterHeader(retry))
	message := "rate limit exceeded"
	if decision.Blocked {
		w.Header().Set("X-RateLimit-Blocked", "true")
		message = "temporarily blocked due to too many attempts"
	}
	response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", message, map[string]any{
		"retryAfter": retrySeconds(retry),
		"blocked":    decision.Blocked,
	})
}

func retrySeconds(d time.Duration) int {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return seconds
}

func retryAfterHeader(d time.Duration) string {
	return strconv.Itoa(retrySeconds(d))
}

func writeRateLimitHeaders(h http.Header, limit int, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", max(limit, 0)))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}
