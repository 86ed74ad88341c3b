package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/icc-admin-auth/internal/audit"
	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/mailer"
	"github.com/sandeepkv93/icc-admin-auth/internal/observability"
	"github.com/sandeepkv93/icc-admin-auth/internal/repository"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
)

// LoginError carries the HTTP status and machine code for a failed login step.
type LoginError struct {
	Status   int
	Code     string
	Message  string
	Details  map[string]any
	Decision *RateLimitDecision
	Err      error
}

func (e *LoginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *LoginError) Unwrap() error { return e.Err }

var ErrInvalidCredentials = errors.New("invalid credentials")

func invalidCredentials() *LoginError {
	return &LoginError{Status: http.StatusUnauthorized, Code: "INVALID_CREDENTIALS", Message: "invalid email or password", Err: ErrInvalidCredentials}
}

func rateLimited(d RateLimitDecision) *LoginError {
	msg := "rate limit exceeded"
	if d.Blocked {
		msg = "temporarily blocked due to too many attempts"
	}
	return &LoginError{Status: http.StatusTooManyRequests, Code: "RATE_LIMITED", Message: msg, Decision: &d}
}

func dependencyFailure(code, message string, err error) *LoginError {
	return &LoginError{Status: http.StatusInternalServerError, Code: code, Message: message, Err: err}
}

type LoginStartInput struct {
	Email       string
	Password    string
	DeviceID    string
	UserAgent   string
	IP          string
	AccessToken string
}

type LoginStartResult struct {
	Trusted                   bool
	RequiresEmailVerification bool
	User                      *domain.AdminUser
	Session                   *domain.SessionRecord
	Tokens                    *TokenPair
}

type LoginVerifyInput struct {
	Email       string
	Code        string
	DeviceID    string
	UserAgent   string
	IP          string
	AccessToken string
}

type LoginVerifyResult struct {
	User     *domain.AdminUser
	Session  *domain.SessionRecord
	Tokens   *TokenPair
	Bypassed bool
}

type LoginOptions struct {
	// VerifiedCookieBypass lets a caller with a live, 2FA-verified session for
	// the same user skip OTP issuance and pass verification without a stored code.
	VerifiedCookieBypass bool
}

type LoginService struct {
	users    repository.AdminUserRepository
	sessions *SessionService
	limiters *RateLimiters
	hasher   *security.Hasher
	mail     mailer.Sender
	audit    audit.Sink
	logger   *slog.Logger
	opts     LoginOptions

	now          func() time.Time
	generateCode func() (string, error)
}

func NewLoginService(
	users repository.AdminUserRepository,
	sessions *SessionService,
	limiters *RateLimiters,
	hasher *security.Hasher,
	mail mailer.Sender,
	sink audit.Sink,
	logger *slog.Logger,
	opts LoginOptions,
) *LoginService {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &LoginService{
		users:        users,
		sessions:     sessions,
		limiters:     limiters,
		hasher:       hasher,
		mail:         mail,
		audit:        sink,
		logger:       logger,
		opts:         opts,
		now:          sessions.now,
		generateCode: security.GenerateOTP,
	}
}

func (s *LoginService) gate(ctx context.Context, limiter *RateLimiter, clientID string) *LoginError {
	dec, err := limiter.IsAllowed(ctx, clientID)
	if err != nil {
		return &LoginError{Status: http.StatusTooManyRequests, Code: "RATE_LIMIT_UNAVAILABLE", Message: "rate limiter unavailable", Err: err}
	}
	if !dec.Allowed {
		return rateLimited(dec)
	}
	return nil
}

func (s *LoginService) Start(ctx context.Context, in LoginStartInput) (*LoginStartResult, error) {
	ctx, span := observability.StartSpan(ctx, "login.start")
	defer span.End()

	clientID := s.limiters.Whitelist.ClientID(in.IP, in.UserAgent)
	if lerr := s.gate(ctx, s.limiters.Login, clientID); lerr != nil {
		observability.RecordAuthLogin("password", "rate_limited")
		return nil, lerr
	}
	email := repository.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, &LoginError{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "email and password are required"}
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		s.hasher.CompareDummy(in.Password)
		s.loginFailed(ctx, email, in, "unknown_email")
		return nil, invalidCredentials()
	}
	if err != nil {
		observability.RecordAuthLogin("password", "error")
		return nil, dependencyFailure("USER_LOOKUP_FAILED", "could not load user", err)
	}
	if err := s.hasher.Compare(user.PasswordHash, in.Password); err != nil || !user.Active {
		s.loginFailed(ctx, email, in, "bad_password")
		return nil, invalidCredentials()
	}
	if err := s.limiters.Login.RecordSuccess(ctx, clientID); err != nil {
		s.logger.WarnContext(ctx, "reset login limiter failed", "error", err)
	}

	req := RequestContext{UserAgent: in.UserAgent, IP: in.IP}
	deviceID := security.DeviceID(in.DeviceID, in.UserAgent, in.IP)
	if user.IsTrustedDevice(deviceID) || s.hasVerifiedSession(ctx, in.AccessToken, user.ID) {
		created, err := s.sessions.CreateSession(ctx, user, req, SessionOptions{})
		if err != nil {
			return nil, dependencyFailure("SESSION_CREATE_FAILED", "could not create session", err)
		}
		now := s.now()
		user.LastLoginAt = &now
		if err := s.users.Update(ctx, user); err != nil {
			return nil, dependencyFailure("USER_UPDATE_FAILED", "could not update user", err)
		}
		observability.RecordAuthLogin("trusted_device", "success")
		s.audit.Record(ctx, audit.Event{Type: audit.EventLoginTrusted, UserID: user.ID, Email: user.Email, SessionID: created.Record.SessionID, IP: in.IP, UserAgent: in.UserAgent})
		return &LoginStartResult{Trusted: true, User: user, Session: created.Record, Tokens: created.Tokens}, nil
	}

	if lerr := s.issueOTP(ctx, user, req); lerr != nil {
		return nil, lerr
	}
	observability.RecordAuthLogin("password", "otp_required")
	s.audit.Record(ctx, audit.Event{Type: audit.EventOTPIssued, UserID: user.ID, Email: user.Email, SessionID: user.PendingSessionID, IP: in.IP, UserAgent: in.UserAgent})
	return &LoginStartResult{RequiresEmailVerification: true, User: user}, nil
}

func (s *LoginService) loginFailed(ctx context.Context, email string, in LoginStartInput, reason string) {
	observability.RecordAuthLogin("password", "invalid_credentials")
	s.audit.Record(ctx, audit.Event{Type: audit.EventLoginFailed, Email: email, IP: in.IP, UserAgent: in.UserAgent, Reason: reason})
}

// hasVerifiedSession reports whether accessToken belongs to a live, verified
// session of userID. Always false unless the bypass is enabled.
func (s *LoginService) hasVerifiedSession(ctx context.Context, accessToken string, userID uint) bool {
	_, ok := s.verifiedSession(ctx, accessToken, userID)
	return ok
}

func (s *LoginService) verifiedSession(ctx context.Context, accessToken string, userID uint) (*domain.SessionRecord, bool) {
	if !s.opts.VerifiedCookieBypass || accessToken == "" {
		return nil, false
	}
	rec, err := s.sessions.VerifySession(ctx, accessToken)
	if err != nil || rec.OwnerID != userID || !rec.TwoFactorVerified || rec.IsTemporary {
		return nil, false
	}
	return rec, true
}

// issueOTP stores a fresh code with its expiry and pending session on the
// user, then emails it. Any earlier code is superseded.
func (s *LoginService) issueOTP(ctx context.Context, user *domain.AdminUser, req RequestContext) *LoginError {
	code, err := s.generateCode()
	if err != nil {
		return dependencyFailure("OTP_GENERATION_FAILED", "could not generate verification code", err)
	}

	pendingID := user.PendingSessionID
	if pendingID != "" {
		if _, err := s.sessions.GetSession(ctx, pendingID); err != nil {
			pendingID = ""
		}
	}
	if pendingID == "" {
		created, err := s.sessions.CreateSession(ctx, user, req, SessionOptions{RequireTwoFactor: true})
		if err != nil {
			return dependencyFailure("SESSION_CREATE_FAILED", "could not create session", err)
		}
		pendingID = created.Record.SessionID
	}

	expiresAt := s.now().Add(security.OTPTTL)
	user.OTPCode = code
	user.OTPExpiresAt = &expiresAt
	user.PendingSessionID = pendingID
	if err := s.users.Update(ctx, user); err != nil {
		return dependencyFailure("USER_UPDATE_FAILED", "could not store verification code", err)
	}
	if err := s.mail.Send(ctx, mailer.LoginCodeMessage(user.Email, user.Name, code, expiresAt)); err != nil {
		return dependencyFailure("OTP_DELIVERY_FAILED", "could not send verification code", err)
	}
	return nil
}

func (s *LoginService) Verify(ctx context.Context, in LoginVerifyInput) (*LoginVerifyResult, error) {
	ctx, span := observability.StartSpan(ctx, "login.verify")
	defer span.End()

	clientID := s.limiters.Whitelist.ClientID(in.IP, in.UserAgent)
	if lerr := s.gate(ctx, s.limiters.TwoFactor, clientID); lerr != nil {
		observability.RecordOTPVerification("rate_limited")
		return nil, lerr
	}
	email := repository.NormalizeEmail(in.Email)
	if email == "" {
		return nil, &LoginError{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "email is required"}
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &LoginError{Status: http.StatusNotFound, Code: "USER_NOT_FOUND", Message: "user not found"}
	}
	if err != nil {
		return nil, dependencyFailure("USER_LOOKUP_FAILED", "could not load user", err)
	}
	if !user.Active {
		s.abandonLogin(ctx, user)
		observability.RecordOTPVerification("inactive")
		s.audit.Record(ctx, audit.Event{Type: audit.EventLoginFailed, UserID: user.ID, Email: user.Email, IP: in.IP, UserAgent: in.UserAgent, Reason: "inactive"})
		return nil, invalidCredentials()
	}

	req := RequestContext{UserAgent: in.UserAgent, IP: in.IP}
	if user.OTPCode == "" {
		if rec, ok := s.verifiedSession(ctx, in.AccessToken, user.ID); ok {
			return s.completeBypass(ctx, user, rec, clientID, in)
		}
		observability.RecordOTPVerification("missing")
		return nil, &LoginError{Status: http.StatusBadRequest, Code: "CODE_MISSING", Message: "no verification code pending, sign in again"}
	}

	if user.OTPExpiresAt == nil || !s.now().Before(*user.OTPExpiresAt) {
		observability.RecordOTPVerification("expired")
		resent := true
		if lerr := s.issueOTP(ctx, user, req); lerr != nil {
			s.logger.ErrorContext(ctx, "automatic otp resend failed", "user_id", user.ID, "error", lerr)
			resent = false
		} else {
			s.audit.Record(ctx, audit.Event{Type: audit.EventOTPResent, UserID: user.ID, Email: user.Email, IP: in.IP, Reason: "expired"})
		}
		return nil, &LoginError{
			Status:  http.StatusBadRequest,
			Code:    "CODE_EXPIRED",
			Message: "verification code expired",
			Details: map[string]any{"resent": resent},
		}
	}

	if !security.OTPEqual(in.Code, user.OTPCode) {
		observability.RecordOTPVerification("invalid")
		s.audit.Record(ctx, audit.Event{Type: audit.EventOTPFailed, UserID: user.ID, Email: user.Email, IP: in.IP, UserAgent: in.UserAgent})
		return nil, &LoginError{Status: http.StatusBadRequest, Code: "CODE_INVALID", Message: "invalid verification code"}
	}

	pendingID := user.PendingSessionID
	now := s.now()
	user.ClearOTP()
	user.RememberDevice(security.DeviceID(in.DeviceID, in.UserAgent, in.IP))
	user.LastLoginAt = &now
	if err := s.users.Update(ctx, user); err != nil {
		return nil, dependencyFailure("USER_UPDATE_FAILED", "could not update user", err)
	}

	rec, err := s.promote(ctx, user, pendingID, req)
	if err != nil {
		return nil, dependencyFailure("SESSION_CREATE_FAILED", "could not create session", err)
	}
	pair, err := s.sessions.IssueTokens(ctx, rec)
	if err != nil {
		return nil, dependencyFailure("TOKEN_ISSUE_FAILED", "could not issue tokens", err)
	}
	if err := s.limiters.TwoFactor.RecordSuccess(ctx, clientID); err != nil {
		s.logger.WarnContext(ctx, "reset two-factor limiter failed", "error", err)
	}

	observability.RecordOTPVerification("success")
	s.audit.Record(ctx, audit.Event{Type: audit.EventLoginVerified, UserID: user.ID, Email: user.Email, SessionID: rec.SessionID, IP: in.IP, UserAgent: in.UserAgent})
	return &LoginVerifyResult{User: user, Session: rec, Tokens: pair}, nil
}

// promote upgrades the pending login session, or starts a verified one when it is gone.
func (s *LoginService) promote(ctx context.Context, user *domain.AdminUser, pendingID string, req RequestContext) (*domain.SessionRecord, error) {
	if pendingID != "" {
		rec, err := s.sessions.GetSession(ctx, pendingID)
		if err == nil && rec.OwnerID == user.ID {
			return s.sessions.Verify2FA(ctx, pendingID)
		}
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}
	created, err := s.sessions.CreateSession(ctx, user, req, SessionOptions{})
	if err != nil {
		return nil, err
	}
	return created.Record, nil
}

func (s *LoginService) completeBypass(ctx context.Context, user *domain.AdminUser, rec *domain.SessionRecord, clientID string, in LoginVerifyInput) (*LoginVerifyResult, error) {
	pair, err := s.sessions.IssueTokens(ctx, rec)
	if err != nil {
		return nil, dependencyFailure("TOKEN_ISSUE_FAILED", "could not issue tokens", err)
	}
	if err := s.limiters.TwoFactor.RecordSuccess(ctx, clientID); err != nil {
		s.logger.WarnContext(ctx, "reset two-factor limiter failed", "error", err)
	}
	observability.RecordOTPVerification("bypass")
	s.audit.Record(ctx, audit.Event{Type: audit.EventVerifiedBypass, UserID: user.ID, Email: user.Email, SessionID: rec.SessionID, IP: in.IP, UserAgent: in.UserAgent})
	return &LoginVerifyResult{User: user, Session: rec, Tokens: pair, Bypassed: true}, nil
}

// abandonLogin drops the code and pending session of an account that was
// deactivated mid-login. Failures are logged, the caller rejects regardless.
func (s *LoginService) abandonLogin(ctx context.Context, user *domain.AdminUser) {
	if user.OTPCode == "" && user.PendingSessionID == "" {
		return
	}
	if user.PendingSessionID != "" {
		if err := s.sessions.InvalidateSession(ctx, user.PendingSessionID); err != nil {
			s.logger.WarnContext(ctx, "drop pending session failed", "user_id", user.ID, "error", err)
		}
	}
	user.ClearOTP()
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.WarnContext(ctx, "clear pending login failed", "user_id", user.ID, "error", err)
	}
}

type ResendInput struct {
	Email     string
	UserAgent string
	IP        string
}

// Resend issues a new code for a user with a login in progress. Unknown
// emails and users without a pending login succeed silently.
func (s *LoginService) Resend(ctx context.Context, in ResendInput) error {
	clientID := s.limiters.Whitelist.ClientID(in.IP, in.UserAgent)
	if lerr := s.gate(ctx, s.limiters.TwoFactor, clientID); lerr != nil {
		return lerr
	}
	email := repository.NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return &LoginError{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "a valid email is required"}
	}
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dependencyFailure("USER_LOOKUP_FAILED", "could not load user", err)
	}
	if !user.Active {
		s.abandonLogin(ctx, user)
		return nil
	}
	if user.OTPCode == "" && user.PendingSessionID == "" {
		return nil
	}
	if lerr := s.issueOTP(ctx, user, RequestContext{UserAgent: in.UserAgent, IP: in.IP}); lerr != nil {
		return lerr
	}
	s.audit.Record(ctx, audit.Event{Type: audit.EventOTPResent, UserID: user.ID, Email: user.Email, IP: in.IP, Reason: "requested"})
	return nil
}
