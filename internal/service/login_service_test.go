package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/mailer"
	"github.com/sandeepkv93/icc-admin-auth/internal/repository"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
)

const (
	loginEmail    = "dealer.admin@icc.test"
	loginPassword = "correct horse battery staple"
	loginIP       = "198.51.100.23"
	loginUA       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)"
	loginDevice   = "device-abcdef123"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []mailer.Message
	err  error
}

func (s *captureSender) Send(_ context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

type loginFixture struct {
	svc      *LoginService
	sessions *SessionService
	tokens   *TokenService
	limiters *RateLimiters
	users    repository.AdminUserRepository
	sender   *captureSender
	clock    *fakeClock
	codes    []string
	user     *domain.AdminUser
}

func newUserRepoForTest(t *testing.T) repository.AdminUserRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.AdminUser{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.NewAdminUserRepository(db)
}

func newLoginFixture(t *testing.T, opts LoginOptions) *loginFixture {
	t.Helper()
	_, store := newDurableStoreForTest(t)
	clock := newFakeClock()
	tokens := newTokenServiceForTest(clock, store)
	sessions := NewSessionService(store, tokens, DefaultMaxConcurrentSessions)
	limiters := NewRateLimiters(store, NewIPWhitelist(nil))
	for _, l := range []*RateLimiter{limiters.Login, limiters.TwoFactor, limiters.API, limiters.ContactForm, limiters.PasswordReset} {
		l.WithClock(clock.Now)
	}
	hasher := security.NewHasher(4)
	users := newUserRepoForTest(t)

	hash, err := hasher.Hash(loginPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := &domain.AdminUser{Email: loginEmail, Name: "Dana", PasswordHash: hash, Role: domain.RoleAdmin, Active: true}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	f := &loginFixture{
		sessions: sessions,
		tokens:   tokens,
		limiters: limiters,
		users:    users,
		sender:   &captureSender{},
		clock:    clock,
		codes:    []string{"123456", "654321", "111222", "333444"},
		user:     user,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewLoginService(users, sessions, limiters, hasher, f.sender, nil, log, opts)
	f.svc.generateCode = func() (string, error) {
		if len(f.codes) == 0 {
			return "", errors.New("out of codes")
		}
		code := f.codes[0]
		f.codes = f.codes[1:]
		return code, nil
	}
	return f
}

func (f *loginFixture) start(t *testing.T, password, device, access string) (*LoginStartResult, error) {
	t.Helper()
	return f.svc.Start(context.Background(), LoginStartInput{
		Email:       loginEmail,
		Password:    password,
		DeviceID:    device,
		UserAgent:   loginUA,
		IP:          loginIP,
		AccessToken: access,
	})
}

func (f *loginFixture) verify(t *testing.T, code, device, access string) (*LoginVerifyResult, error) {
	t.Helper()
	return f.svc.Verify(context.Background(), LoginVerifyInput{
		Email:       loginEmail,
		Code:        code,
		DeviceID:    device,
		UserAgent:   loginUA,
		IP:          loginIP,
		AccessToken: access,
	})
}

func (f *loginFixture) reload(t *testing.T) *domain.AdminUser {
	t.Helper()
	u, err := f.users.FindByEmail(context.Background(), loginEmail)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return u
}

func requireLoginError(t *testing.T, err error, status int, code string) *LoginError {
	t.Helper()
	var lerr *LoginError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LoginError %s, got %v", code, err)
	}
	if lerr.Status != status || lerr.Code != code {
		t.Fatalf("expected %d %s, got %d %s (%v)", status, code, lerr.Status, lerr.Code, lerr)
	}
	return lerr
}

func TestUntrustedLoginRequiresCodeThenVerifies(t *testing.T) {
	f := newLoginFixture(t, LoginOptions{})
	ctx := context.Background()

	res, err := f.start(t, loginPassword, loginDevice, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !res.RequiresEmailVerification || res.Trusted || res.Tokens != nil {
		t.Fatalf("untrusted login should require email verification: %+v", res)
	}
	if f.sender.count() != 1 || !strings.Contains(f.sender.msgs[0].Body, "123456") {
		t.Fatalf("expected one email carrying the code, got %+v", f.sender.msgs)
	}
	pending := f.reload(t)
	if pending.OTPCode != "123456" || pending.PendingSessionID == "" || pending.OTPExpiresAt == nil {
		t.Fatalf("otp state not persisted: %+v", pending)
	}
	if !pending.OTPExpiresAt.Equal(f.clock.Now().Add(security.OTPTTL)) {
		t.Fatalf("unexpected otp expiry %v", pending.OTPExpiresAt)
	}

	out, err := f.verify(t, " 123-456 ", loginDevice, "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Tokens == nil || out.Session.SessionID != pending.PendingSessionID {
		t.Fatalf("verify should promote the pending session: %+v", out)
	}
	claims := f.tokens.VerifyAccessToken(ctx, out.Tokens.AccessToken)
	if !claims.Valid || !claims.Claims.TwoFactorVerified {
		t.Fatalf("issued access token should be verified: %+v", claims)
	}

	sessions, err := f.sessions.GetAdminSessions(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || !sessions[0].TwoFactorVerified || sessions[0].IsTemporary {
		t.Fatalf("expected exactly one verified session, got %+v", sessions)
	}

	after := f.reload(t)
	if after.OTPCode != "" || after.PendingSessionID != "" || after.OTPExpiresAt != nil {
		t.Fatalf("otp state should be cleared: %+v", after)
	}
	if !after.IsTrustedDevice(loginDevice) || after.LastLoginAt == nil {
		t.Fatalf("device should be trusted and last login stamped: %+v", after)
	}
}

func TestTrustedDeviceSkipsCode(t *testing.T) {
	f := newLoginFixture(t, LoginOptions{})
	if _, err := f.start(t, loginPassword, loginDevice, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.verify(t, "123456", loginDevice, ""); err != nil {
		t.Fatalf("verify: %v", err)
	}

	res, err := f.start(t, loginPassword, loginDevice, "")
	if err != nil {
		t.Fatalf("trusted start: %v", err)
	}
	if !res.Trusted || res.Tokens == nil || res.RequiresEmailVerification {
		t.Fatalf("trusted device should receive tokens directly: %+v", res)
	}
	if f.sender.count() != 1 {
		t.Fatalf("trusted login must not send another code, sent %d", f.sender.count())
	}
	if !res.Session.TwoFactorVerified {
		t.Fatal("trusted session should be verified")
	}
}

func TestShortDeviceIDFallsBackToFingerprint(t *testing.T) {
	f := newLoginFixture(t, LoginOptions{})
	if _, err := f.start(t, loginPassword, "short", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.verify(t, "123456", "short", ""); err != nil {
		t.Fatalf("verify: %v", err)
	}
	u := f.reload(t)
	want := security.DeviceID("", loginUA, loginIP)
	if !u.IsTrustedDevice(want) || u.IsTrustedDevice("short") {
		t.Fatalf("expected fingerprint device id %q, got %v", want, u.TrustedDevices)
	}
}

func TestInvalidCredentialsAreGeneric(t *testing.T) {
	f := newLoginFixture(t, LoginOptions{})

	_, err := f.start(t, "wrong password", loginDevice, "")
	wrong := requireLoginError(t, err, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	_, err = f.svc.Start(context.Background(), LoginStartInput{Email: "ghost@icc.test", Password: "whatever", UserAgent: loginUA, IP: "198.51.100.99"})
	unknown := requireLoginError(t, err, http.StatusUnauthorized, "INVALID_CREDENTIALS")
	if wrong.Message != unknown.Message {
		t.Fatalf("unknown email and wrong password must look identical: %q vs %q", wrong.Message, unknown.Message)
	}
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("expected ErrInvalidCredentials in chain")
	}
	if f.sender.count() != 0 {
		t.Fatal("no code should be sent on failure")
	}
}

func TestLoginRateLimitBlocksAfterThreeFailures(t *testing.T) {
	f := newLoginFixture(t, LoginOptions{})
	for i := 0; i < AdminLoginPolicy.MaxAttempts; i++ {
		_, err := f.start(t, "nope", loginDevice, "")
		requireLoginError(t, err, http.StatusUnauthorized, "INVALID_CREDENTIALS")
	}
	_, err := f.start(t, loginPassword, loginDevice, "")
	lerr := requireLoginError(t, err, http.StatusTooManyRequests, "RATE_LIMITED")
	if lerr.Decision == nil || !lerr.Decision.Blocked {
		t.Fatalf("expected block decision, got %+v", lerr.Decision)
	}
}

func TestSuccessfulPasswordResetsLoginLimiter(t *testing.T) {
	f := newLoginFixture(t, LoginOptions{})
	for i := 0; i < 2; i++ {
		if _, err := f.start(t, "nope", loginDevice, ""); err == nil {
			t.Fatal("expected failure")
		}
	}
	if _, err := f.start(t, loginPassword, loginDevice, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	client := f.limiters.Whitelist.ClientID(loginIP, loginUA)
	status, err := f.limiters.Login.GetStatus(context.Background(), client)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Remaining != AdminLoginPolicy.MaxAttempts {
		t.Fatalf("login limiter should reset after success, remaining %d", status.Remaining)
	}
}

func TestExpiredCodeResendsExactlyOnce(t *testing.T) {
	f := newLoginFixture(t, LoginOptions{})
	if _, err := f.start(t, loginPassword, loginDevice, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.Advance(security.OTPTTL + time.Minute)

	_, err := f.verify(t, "123456", loginDevice, "")
	lerr := requireLoginError(t, err, http.StatusBadRequest, "CODE_EXPIRED")
	if resent, _ := lerr.Details["resent"].(bool); !resent {
		t.Fatalf("expected resent=true, got %+v", lerr.Details)
	}
	if f.sender.count() != 2 {
		t.Fatalf("expected exactly one resend, got %d emails", f.sender.count())
	}
	if !strings.Contains(f.sender.msgs[1].Body, "654321") {
		t.Fatalf("resend should carry the new code: %q", f.sender.msgs[1].Body)
	}

	if _, err := f.verify(t, "123456", loginDevice, ""); err == nil {
		t.Fatal("superseded code must not verify")
	}
	out, err := f.verify(t, "654321", loginDevice, "")
	if err != nil {
		t.Fatalf("verify new code: %v", err)
	}
	if out.Tokens == nil {
		t.Fatal("expected tokens")
	}
}

func TestVerifyErrors(t *testing.T) {
	f := newLoginFixture(t, LoginOptions{})

	_, err := f.verify(t, "123456", loginDevice, "")
	requireLoginError(t, err, http.StatusBadRequest, "CODE_MISSING")

	if _, err := f.start(t, loginPassword, loginDevice, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = f.verify(t, "000000", loginDevice, "")
	requireLoginError(t, err, http.StatusBadRequest, "CODE_INVALID")
	_, err = f.verify(t, "1234567", loginDevice, "")
	requireLoginError(t, err, http.StatusBadRequest, "CODE_INVALID")

	_, err = f.svc.Verify(context.Background(), LoginVerifyInput{Email: "ghost@icc.test", Code: "123456", UserAgent: loginUA, IP: loginIP})
	requireLoginError(t, err, http.StatusNotFound, "USER_NOT_FOUND")
}

func TestOTPDeliveryFailure(t *testing.T) {
	f := newLoginFixture(t, LoginOptions{})
	f.sender.err = errors.New("relay down")
	_, err := f.start(t, loginPassword, loginDevice, "")
	requireLoginError(t, err, http.StatusInternalServerError, "OTP_DELIVERY_FAILED")
}

func TestVerifiedCookieBypass(t *testing.T) {
	f := newLoginFixture(t, LoginOptions{VerifiedCookieBypass: true})
	if _, err := f.start(t, loginPassword, loginDevice, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := f.verify(t, "123456", loginDevice, "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	res, err := f.start(t, loginPassword, "another-device-999", first.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("start with verified cookie: %v", err)
	}
	if !res.Trusted {
		t.Fatalf("verified cookie should take the trusted path: %+v", res)
	}

	bypass, err := f.verify(t, "", "another-device-999", first.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("verify bypass: %v", err)
	}
	if !bypass.Bypassed || bypass.Tokens == nil {
		t.Fatalf("expected bypassed verification, got %+v", bypass)
	}
}

func TestVerifiedCookieIgnoredWhenBypassDisabled(t *testing.T) {
	f := newLoginFixture(t, LoginOptions{})
	if _, err := f.start(t, loginPassword, loginDevice, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := f.verify(t, "123456", loginDevice, "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	res, err := f.start(t, loginPassword, "another-device-999", first.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Trusted || !res.RequiresEmailVerification {
		t.Fatalf("new device must verify by email when bypass is off: %+v", res)
	}
}

func TestResend(t *testing.T) {
	f := newLoginFixture(t, LoginOptions{})
	ctx := context.Background()

	if err := f.svc.Resend(ctx, ResendInput{Email: "ghost@icc.test", UserAgent: loginUA, IP: loginIP}); err != nil {
		t.Fatalf("unknown email should succeed silently, got %v", err)
	}
	if err := f.svc.Resend(ctx, ResendInput{Email: loginEmail, UserAgent: loginUA, IP: loginIP}); err != nil {
		t.Fatalf("idle user should succeed silently, got %v", err)
	}
	if f.sender.count() != 0 {
		t.Fatalf("no mail expected, got %d", f.sender.count())
	}

	if _, err := f.start(t, loginPassword, loginDevice, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	pendingID := f.reload(t).PendingSessionID
	if err := f.svc.Resend(ctx, ResendInput{Email: loginEmail, UserAgent: loginUA, IP: loginIP}); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if f.sender.count() != 2 {
		t.Fatalf("expected a second email, got %d", f.sender.count())
	}
	u := f.reload(t)
	if u.OTPCode != "654321" || u.PendingSessionID != pendingID {
		t.Fatalf("resend should rotate the code and keep the pending session: %+v", u)
	}
	err := f.svc.Resend(ctx, ResendInput{Email: "not-an-email", UserAgent: loginUA, IP: loginIP})
	requireLoginError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestDeactivatedDuringLoginCannotVerify(t *testing.T) {
	f := newLoginFixture(t, LoginOptions{})
	ctx := context.Background()

	if _, err := f.start(t, loginPassword, loginDevice, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	u := f.reload(t)
	u.Active = false
	if err := f.users.Update(ctx, u); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := f.verify(t, "123456", loginDevice, "")
	requireLoginError(t, err, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	sessions, err := f.sessions.GetAdminSessions(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("pending session should be dropped, got %+v", sessions)
	}
	after := f.reload(t)
	if after.OTPCode != "" || after.PendingSessionID != "" || after.IsTrustedDevice(loginDevice) {
		t.Fatalf("pending login should be abandoned without trusting the device: %+v", after)
	}

	if err := f.svc.Resend(ctx, ResendInput{Email: loginEmail, UserAgent: loginUA, IP: loginIP}); err != nil {
		t.Fatalf("resend for inactive user should be silent, got %v", err)
	}
	if f.sender.count() != 1 {
		t.Fatalf("no code should be mailed to an inactive account, got %d emails", f.sender.count())
	}
}
