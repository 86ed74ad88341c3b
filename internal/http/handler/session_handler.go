package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/icc-admin-auth/internal/audit"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/middleware"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/response"
	"github.com/sandeepkv93/icc-admin-auth/internal/repository"
	"github.com/sandeepkv93/icc-admin-auth/internal/service"
)

type SessionHandler struct {
	sessions service.SessionServiceInterface
	users    repository.AdminUserRepository
	audit    audit.Sink
	logger   *slog.Logger
}

func NewSessionHandler(sessions service.SessionServiceInterface, users repository.AdminUserRepository, sink audit.Sink, logger *slog.Logger) *SessionHandler {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &SessionHandler{sessions: sessions, users: users, audit: sink, logger: logger}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	views, err := h.sessions.ListSessionViews(r.Context(), p.UserID, p.SessionID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list sessions failed", "user_id", p.UserID, "error", err)
		response.Internal(w, r)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

// Terminate ends one of the caller's own sessions. Sessions of other users
// are reported as not found.
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "id")
	rec, err := h.sessions.GetSession(r.Context(), id)
	if errors.Is(err, service.ErrSessionNotFound) || (err == nil && rec.OwnerID != p.UserID) {
		response.Error(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", nil)
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load session failed", "error", err)
		response.Internal(w, r)
		return
	}
	if err := h.sessions.InvalidateSession(r.Context(), id); err != nil {
		h.logger.ErrorContext(r.Context(), "terminate session failed", "error", err)
		response.Internal(w, r)
		return
	}
	h.audit.Record(r.Context(), audit.Event{Type: audit.EventSessionTerminated, UserID: p.UserID, Email: p.Email, SessionID: id, IP: middleware.ClientIP(r)})
	response.JSON(w, r, http.StatusOK, map[string]any{"terminated": id, "current": id == p.SessionID})
}

func (h *SessionHandler) TerminateOthers(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	n, err := h.sessions.InvalidateOtherSessions(r.Context(), p.UserID, p.SessionID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "terminate other sessions failed", "error", err)
		response.Internal(w, r)
		return
	}
	h.audit.Record(r.Context(), audit.Event{Type: audit.EventSessionsTerminated, UserID: p.UserID, Email: p.Email, SessionID: p.SessionID, IP: middleware.ClientIP(r), Reason: "others"})
	response.JSON(w, r, http.StatusOK, map[string]int{"terminated": n})
}

// TerminateUser ends every session of the user in the path.
func (h *SessionHandler) TerminateUser(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user id", nil)
		return
	}
	target, err := h.users.FindByID(r.Context(), uint(id))
	if errors.Is(err, repository.ErrNotFound) {
		response.Error(w, r, http.StatusNotFound, "USER_NOT_FOUND", "user not found", nil)
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "load user failed", "error", err)
		response.Internal(w, r)
		return
	}
	n, err := h.sessions.InvalidateAllSessions(r.Context(), target.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "terminate user sessions failed", "error", err)
		response.Internal(w, r)
		return
	}
	h.audit.Record(r.Context(), audit.Event{
		Type:   audit.EventSessionsTerminated,
		UserID: target.ID,
		Email:  target.Email,
		IP:     middleware.ClientIP(r),
		Reason: "terminated by user " + strconv.FormatUint(uint64(p.UserID), 10),
	})
	response.JSON(w, r, http.StatusOK, map[string]int{"terminated": n})
}
