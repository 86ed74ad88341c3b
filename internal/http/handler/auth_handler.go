package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sandeepkv93/icc-admin-auth/internal/audit"
	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/middleware"
	"github.com/sandeepkv93/icc-admin-auth/internal/http/response"
	"github.com/sandeepkv93/icc-admin-auth/internal/observability"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
	"github.com/sandeepkv93/icc-admin-auth/internal/service"
)

type AuthHandler struct {
	login    service.LoginServiceInterface
	sessions service.SessionServiceInterface
	cookies  security.CookiePolicy
	audit    audit.Sink
	logger   *slog.Logger
}

func NewAuthHandler(login service.LoginServiceInterface, sessions service.SessionServiceInterface, cookies security.CookiePolicy, sink audit.Sink, logger *slog.Logger) *AuthHandler {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &AuthHandler{login: login, sessions: sessions, cookies: cookies, audit: sink, logger: logger}
}

type userView struct {
	ID          uint               `json:"id"`
	Email       string             `json:"email"`
	Name        string             `json:"name"`
	Role        domain.Role        `json:"role"`
	Permissions domain.Permissions `json:"permissions"`
	Active      bool               `json:"active"`
	LastLoginAt *time.Time         `json:"lastLoginAt,omitempty"`
}

func toUserView(u *domain.AdminUser) userView {
	return userView{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		Permissions: domain.PermissionsForRole(u.Role),
		Active:      u.Active,
		LastLoginAt: u.LastLoginAt,
	}
}

func (h *AuthHandler) CSRF(w http.ResponseWriter, r *http.Request) {
	token, err := security.NewCSRFToken()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "csrf token generation failed", "error", err)
		response.Internal(w, r)
		return
	}
	h.cookies.SetCSRFCookie(w, r, token)
	response.JSON(w, r, http.StatusOK, map[string]string{"csrfToken": token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fields := fieldErrors{}
	fields.email("email", req.Email)
	fields.require("password", req.Password)
	fields.maxLen("password", req.Password, 256)
	fields.maxLen("deviceId", req.DeviceID, 128)
	if fields.write(w, r) {
		return
	}

	access, _ := middleware.AccessToken(r)
	res, err := h.login.Start(r.Context(), service.LoginStartInput{
		Email:       req.Email,
		Password:    req.Password,
		DeviceID:    req.DeviceID,
		UserAgent:   r.UserAgent(),
		IP:          middleware.ClientIP(r),
		AccessToken: access,
	})
	if err != nil {
		h.writeLoginError(w, r, err)
		return
	}
	if res.Trusted {
		h.cookies.SetAuthCookies(w, r, res.Tokens.AccessToken, res.Tokens.RefreshToken)
		response.JSON(w, r, http.StatusOK, map[string]any{
			"trusted": true,
			"user":    toUserView(res.User),
			"session": res.Tokens,
		})
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"requiresEmailVerification": true,
		"expiresInSeconds":          int(security.OTPTTL.Seconds()),
	})
}

type verifyRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	DeviceID string `json:"deviceId"`
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fields := fieldErrors{}
	fields.email("email", req.Email)
	fields.maxLen("code", req.Code, 32)
	fields.maxLen("deviceId", req.DeviceID, 128)
	if fields.write(w, r) {
		return
	}

	access, _ := middleware.AccessToken(r)
	res, err := h.login.Verify(r.Context(), service.LoginVerifyInput{
		Email:       req.Email,
		Code:        req.Code,
		DeviceID:    req.DeviceID,
		UserAgent:   r.UserAgent(),
		IP:          middleware.ClientIP(r),
		AccessToken: access,
	})
	if err != nil {
		h.writeLoginError(w, r, err)
		return
	}
	h.cookies.SetAuthCookies(w, r, res.Tokens.AccessToken, res.Tokens.RefreshToken)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user":    toUserView(res.User),
		"session": res.Tokens,
	})
}

type resendRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fields := fieldErrors{}
	fields.email("email", req.Email)
	if fields.write(w, r) {
		return
	}
	err := h.login.Resend(r.Context(), service.ResendInput{Email: req.Email, UserAgent: r.UserAgent(), IP: middleware.ClientIP(r)})
	if err != nil {
		h.writeLoginError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]bool{"sent": true})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := security.CookieValue(r, security.RefreshCookieName)
	if raw == "" {
		observability.RecordAuthRefresh("missing")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing refresh token", nil)
		return
	}
	rec, out, err := h.sessions.RefreshSession(r.Context(), raw)
	if err != nil {
		h.cookies.ClearAuthCookies(w, r)
		if errors.Is(err, service.ErrSessionInvalid) {
			observability.RecordAuthRefresh("invalid")
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired session", nil)
			return
		}
		observability.RecordAuthRefresh("error")
		h.logger.ErrorContext(r.Context(), "refresh session failed", "error", err)
		response.Internal(w, r)
		return
	}
	h.cookies.SetAccessCookie(w, r, out.AccessToken)
	if out.Rotated {
		h.cookies.SetRefreshCookie(w, r, out.RefreshToken)
	}
	observability.RecordAuthRefresh("success")
	response.JSON(w, r, http.StatusOK, map[string]any{
		"sessionId":       rec.SessionID,
		"accessExpiresAt": out.AccessClaims.Expiry(),
		"refreshRotated":  out.Rotated,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	access, _ := middleware.AccessToken(r)
	refresh := security.CookieValue(r, security.RefreshCookieName)
	err := h.sessions.Logout(r.Context(), access, refresh)
	h.cookies.ClearAuthCookies(w, r)
	if err != nil {
		observability.RecordAuthLogout("error")
		h.logger.ErrorContext(r.Context(), "logout cleanup failed", "error", err)
		response.Internal(w, r)
		return
	}
	ev := audit.Event{Type: audit.EventLogout, IP: middleware.ClientIP(r), UserAgent: r.UserAgent()}
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		ev.UserID, ev.Email, ev.SessionID = p.UserID, p.Email, p.SessionID
	}
	h.audit.Record(r.Context(), ev)
	observability.RecordAuthLogout("success")
	response.JSON(w, r, http.StatusOK, map[string]bool{"loggedOut": true})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	access, _ := middleware.AccessToken(r)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user":         p,
		"needsRefresh": h.sessions.NeedsRefresh(access),
	})
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	var lerr *service.LoginError
	if !errors.As(err, &lerr) {
		h.logger.ErrorContext(r.Context(), "login flow failed", "error", err)
		response.Internal(w, r)
		return
	}
	if lerr.Decision != nil {
		middleware.WriteRateLimitRejection(w, r, *lerr.Decision)
		return
	}
	if lerr.Status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "login dependency failure", "code", lerr.Code, "error", lerr.Err)
	}
	var details any
	if len(lerr.Details) > 0 {
		details = lerr.Details
	}
	response.Error(w, r, lerr.Status, lerr.Code, lerr.Message, details)
}
