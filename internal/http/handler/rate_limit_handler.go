package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/icc-admin-auth/internal/audit"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/middleware"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/response"
	"github.com/sandeepkv93/icc-admin-auth/internal/service"
)

// maxAdminBlock caps manual blocks issued through the API.
const maxAdminBlock = 30 * 24 * time.Hour

type RateLimitHandler struct {
	limiters *service.RateLimiters
	audit    audit.Sink
	logger   *slog.Logger
}

func NewRateLimitHandler(limiters *service.RateLimiters, sink audit.Sink, logger *slog.Logger) *RateLimitHandler {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &RateLimitHandler{limiters: limiters, audit: sink, logger: logger}
}

type rateLimitStatus struct {
	Policy    string    `json:"policy"`
	ClientID  string    `json:"clientId"`
	Allowed   bool      `json:"allowed"`
	Blocked   bool      `json:"blocked"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// target resolves the limiter and client id from the path, writing a 4xx on failure.
func (h *RateLimitHandler) target(w http.ResponseWriter, r *http.Request) (*service.RateLimiter, string, bool) {
	limiter, ok := h.limiters.ByName(chi.URLParam(r, "policy"))
	if !ok {
		response.Error(w, r, http.StatusNotFound, "POLICY_NOT_FOUND", "unknown rate limit policy", nil)
		return nil, "", false
	}
	clientID, err := url.PathUnescape(chi.URLParam(r, "clientId"))
	if err != nil || clientID == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid client id", nil)
		return nil, "", false
	}
	return limiter, clientID, true
}

func (h *RateLimitHandler) Status(w http.ResponseWriter, r *http.Request) {
	limiter, clientID, ok := h.target(w, r)
	if !ok {
		return
	}
	dec, err := limiter.GetStatus(r.Context(), clientID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "rate limit status failed", "error", err)
		response.Internal(w, r)
		return
	}
	response.JSON(w, r, http.StatusOK, rateLimitStatus{
		Policy:    limiter.Policy().Name,
		ClientID:  clientID,
		Allowed:   dec.Allowed,
		Blocked:   dec.Blocked,
		Limit:     dec.Limit,
		Remaining: dec.Remaining,
		ResetAt:   dec.ResetAt,
	})
}

func (h *RateLimitHandler) Reset(w http.ResponseWriter, r *http.Request) {
	limiter, clientID, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := limiter.ResetLimit(r.Context(), clientID); err != nil {
		h.logger.ErrorContext(r.Context(), "rate limit reset failed", "error", err)
		response.Internal(w, r)
		return
	}
	h.record(r, audit.EventRateLimitReset, limiter.Policy().Name+":"+clientID)
	response.JSON(w, r, http.StatusOK, map[string]bool{"reset": true})
}

type blockRequest struct {
	DurationSeconds int `json:"durationSeconds"`
}

func (h *RateLimitHandler) Block(w http.ResponseWriter, r *http.Request) {
	limiter, clientID, ok := h.target(w, r)
	if !ok {
		return
	}
	var req blockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d := time.Duration(req.DurationSeconds) * time.Second
	if d < 0 || d > maxAdminBlock {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "durationSeconds out of range", nil)
		return
	}
	if err := limiter.BlockClient(r.Context(), clientID, d); err != nil {
		h.logger.ErrorContext(r.Context(), "rate limit block failed", "error", err)
		response.Internal(w, r)
		return
	}
	h.record(r, audit.EventRateLimitBlocked, limiter.Policy().Name+":"+clientID)
	response.JSON(w, r, http.StatusOK, map[string]bool{"blocked": true})
}

func (h *RateLimitHandler) record(r *http.Request, event, reason string) {
	ev := audit.Event{Type: event, IP: middleware.ClientIP(r), Reason: reason}
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		ev.UserID, ev.Email = p.UserID, p.Email
	}
	h.audit.Record(r.Context(), ev)
}
