package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandeepkv93/icc-admin-auth/internal/kvstore"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
)

func newSessionServiceForTest(t *testing.T, maxConcurrent int) (*SessionService, *TokenService, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := kvstore.NewMemoryStoreWithClock(clock.Now)
	tokens := newTokenServiceForTest(clock, store)
	return NewSessionService(store, tokens, maxConcurrent), tokens, clock
}

var testRequest = RequestContext{UserAgent: "Mozilla/5.0 (X11; Linux x86_64)", IP: "198.51.100.4"}

func TestCreateSessionIssuesBoundTokens(t *testing.T) {
	svc, tokens, clock := newSessionServiceForTest(t, 5)
	ctx := context.Background()
	owner := testAdmin(1, "owner@icc.test")

	created, err := svc.CreateSession(ctx, owner, testRequest, SessionOptions{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	rec := created.Record
	if !rec.TwoFactorVerified || rec.IsTemporary {
		t.Fatalf("default session should be verified: %+v", rec)
	}
	if !rec.ExpiresAt.Equal(clock.Now().Add(DefaultSessionMaxAge)) {
		t.Fatalf("unexpected expiry %v", rec.ExpiresAt)
	}
	if rec.Device.Fingerprint == "" || rec.Device.IP != testRequest.IP {
		t.Fatalf("device info not captured: %+v", rec.Device)
	}
	res := tokens.VerifyAccessToken(ctx, created.Tokens.AccessToken)
	if !res.Valid || res.Claims.SessionID != rec.SessionID || res.Claims.UserID != owner.ID {
		t.Fatalf("token not bound to session: %+v", res)
	}
	if !res.Claims.Permissions.ManageCars || res.Claims.Permissions.ManageUsers {
		t.Fatalf("admin permissions not derived from role: %+v", res.Claims.Permissions)
	}
}

func TestSessionConcurrencyEvictsOldest(t *testing.T) {
	svc, _, clock := newSessionServiceForTest(t, 3)
	ctx := context.Background()
	owner := testAdmin(2, "busy@icc.test")

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		created, err := svc.CreateSession(ctx, owner, testRequest, SessionOptions{})
		if err != nil {
			t.Fatalf("create session %d: %v", i, err)
		}
		ids = append(ids, created.Record.SessionID)
		clock.Advance(time.Second)
	}

	sessions, err := svc.GetAdminSessions(ctx, owner.ID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 live sessions, got %d", len(sessions))
	}
	live := map[string]bool{}
	for _, s := range sessions {
		live[s.SessionID] = true
	}
	for _, id := range ids[2:] {
		if !live[id] {
			t.Fatalf("newest session %s should survive", id)
		}
	}
	for _, id := range ids[:2] {
		if _, err := svc.GetSession(ctx, id); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("oldest session %s should be evicted, got %v", id, err)
		}
	}
}

func TestPendingSessionDoesNotEvictUntilVerified(t *testing.T) {
	svc, _, clock := newSessionServiceForTest(t, 2)
	ctx := context.Background()
	owner := testAdmin(3, "pending@icc.test")

	var verified []string
	for i := 0; i < 2; i++ {
		created, err := svc.CreateSession(ctx, owner, testRequest, SessionOptions{})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		verified = append(verified, created.Record.SessionID)
		clock.Advance(time.Second)
	}

	pending, err := svc.CreateSession(ctx, owner, testRequest, SessionOptions{RequireTwoFactor: true})
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if pending.Record.TwoFactorVerified || !pending.Record.IsTemporary {
		t.Fatalf("pending session flags wrong: %+v", pending.Record)
	}
	if !pending.Record.ExpiresAt.Equal(clock.Now().Add(PendingSessionTTL)) {
		t.Fatalf("pending session should be short lived, expires %v", pending.Record.ExpiresAt)
	}
	if sessions, _ := svc.GetAdminSessions(ctx, owner.ID); len(sessions) != 3 {
		t.Fatalf("pending session must not evict, got %d sessions", len(sessions))
	}

	clock.Advance(time.Second)
	promoted, err := svc.Verify2FA(ctx, pending.Record.SessionID)
	if err != nil {
		t.Fatalf("verify2fa: %v", err)
	}
	if !promoted.TwoFactorVerified || promoted.IsTemporary {
		t.Fatalf("session not promoted: %+v", promoted)
	}
	if !promoted.ExpiresAt.Equal(clock.Now().Add(DefaultSessionMaxAge)) {
		t.Fatalf("promoted session should get full lifetime, got %v", promoted.ExpiresAt)
	}
	sessions, err := svc.GetAdminSessions(ctx, owner.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected limit enforced on promotion, got %d", len(sessions))
	}
	if _, err := svc.GetSession(ctx, verified[0]); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("oldest verified session should be evicted, got %v", err)
	}
}

func TestPendingSessionExpires(t *testing.T) {
	svc, _, clock := newSessionServiceForTest(t, 5)
	ctx := context.Background()
	pending, err := svc.CreateSession(ctx, testAdmin(4, "slow@icc.test"), testRequest, SessionOptions{RequireTwoFactor: true})
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	clock.Advance(PendingSessionTTL + time.Second)
	if _, err := svc.GetSession(ctx, pending.Record.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("pending session should expire, got %v", err)
	}
}

func TestVerifySessionTouchesAndRejectsInvalidated(t *testing.T) {
	svc, _, clock := newSessionServiceForTest(t, 5)
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, testAdmin(5, "touch@icc.test"), testRequest, SessionOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.Advance(time.Minute)
	rec, err := svc.VerifySession(ctx, created.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !rec.LastAccessedAt.Equal(clock.Now()) {
		t.Fatalf("lastAccessedAt not refreshed: %v", rec.LastAccessedAt)
	}

	if err := svc.InvalidateSession(ctx, created.Record.SessionID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := svc.VerifySession(ctx, created.Tokens.AccessToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid after invalidation, got %v", err)
	}
	if _, err := svc.VerifySession(ctx, "garbage"); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid for garbage, got %v", err)
	}
	if err := svc.InvalidateSession(ctx, created.Record.SessionID); err != nil {
		t.Fatalf("second invalidate should be a no-op, got %v", err)
	}
}

func TestRefreshSessionRequiresLiveSession(t *testing.T) {
	svc, tokens, clock := newSessionServiceForTest(t, 5)
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, testAdmin(6, "refresh@icc.test"), testRequest, SessionOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.Advance(16 * time.Minute)
	rec, out, err := svc.RefreshSession(ctx, created.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rec.SessionID != created.Record.SessionID {
		t.Fatalf("refresh resolved wrong session %s", rec.SessionID)
	}
	if res := tokens.VerifyAccessToken(ctx, out.AccessToken); !res.Valid || res.Claims.SessionID != rec.SessionID {
		t.Fatalf("refreshed access token invalid: %+v", res)
	}

	if _, err := svc.InvalidateAllSessions(ctx, 6); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	if _, _, err := svc.RefreshSession(ctx, created.Tokens.RefreshToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("refresh after invalidation should fail, got %v", err)
	}
}

func TestRotatedRefreshTokenOutlivesOriginalSession(t *testing.T) {
	svc, _, clock := newSessionServiceForTest(t, 5)
	ctx := context.Background()
	owner := testAdmin(16, "rotate@icc.test")
	created, err := svc.CreateSession(ctx, owner, testRequest, SessionOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	originalExpiry := created.Record.ExpiresAt

	clock.Advance(6*24*time.Hour + 12*time.Hour)
	rec, out, err := svc.RefreshSession(ctx, created.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh near expiry: %v", err)
	}
	if !out.Rotated || out.RefreshToken == "" {
		t.Fatalf("expected rotation inside the last day: %+v", out)
	}
	if !rec.ExpiresAt.Equal(out.RefreshClaims.Expiry()) || !rec.ExpiresAt.After(originalExpiry) {
		t.Fatalf("session expiry %v not extended to rotated token expiry %v", rec.ExpiresAt, out.RefreshClaims.Expiry())
	}

	clock.Advance(24 * time.Hour)
	if _, _, err := svc.RefreshSession(ctx, out.RefreshToken); err != nil {
		t.Fatalf("rotated token rejected after original lifetime: %v", err)
	}
	sessions, err := svc.GetAdminSessions(ctx, owner.ID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != created.Record.SessionID {
		t.Fatalf("extended session missing from owner index: %+v", sessions)
	}
	if _, _, err := svc.RefreshSession(ctx, created.Tokens.RefreshToken); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("original refresh token should be revoked after rotation, got %v", err)
	}
}

func TestInvalidateOtherSessionsKeepsCurrent(t *testing.T) {
	svc, _, clock := newSessionServiceForTest(t, 5)
	ctx := context.Background()
	owner := testAdmin(7, "others@icc.test")

	var ids []string
	for i := 0; i < 3; i++ {
		created, err := svc.CreateSession(ctx, owner, testRequest, SessionOptions{})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, created.Record.SessionID)
		clock.Advance(time.Second)
	}
	removed, err := svc.InvalidateOtherSessions(ctx, owner.ID, ids[1])
	if err != nil {
		t.Fatalf("invalidate others: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	views, err := svc.ListSessionViews(ctx, owner.ID, ids[1])
	if err != nil {
		t.Fatalf("views: %v", err)
	}
	if len(views) != 1 || views[0].SessionID != ids[1] || !views[0].IsCurrent {
		t.Fatalf("unexpected views %+v", views)
	}
}

func TestListAllSessionsScansEveryOwner(t *testing.T) {
	svc, _, _ := newSessionServiceForTest(t, 5)
	ctx := context.Background()
	for i := uint(10); i < 13; i++ {
		if _, err := svc.CreateSession(ctx, testAdmin(i, "many@icc.test"), testRequest, SessionOptions{}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	all, err := svc.ListAllSessions(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(all))
	}
}

func TestNeedsRefresh(t *testing.T) {
	svc, tokens, clock := newSessionServiceForTest(t, 5)
	token, _, err := tokens.GenerateAccessToken(testSubject())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if svc.NeedsRefresh(token) {
		t.Fatal("fresh access token should not need refresh")
	}
	clock.Advance(9 * time.Minute)
	if svc.NeedsRefresh(token) {
		t.Fatal("token with 6m left should not need refresh")
	}
	clock.Advance(2 * time.Minute)
	if !svc.NeedsRefresh(token) {
		t.Fatal("token within a third of its lifetime should need refresh")
	}
	if !svc.NeedsRefresh("not-a-token") {
		t.Fatal("garbage should need refresh")
	}

	refresh, _, err := tokens.GenerateRefreshToken(testSubject())
	if err != nil {
		t.Fatalf("sign refresh: %v", err)
	}
	if svc.NeedsRefresh(refresh) {
		t.Fatal("week-long token should only need refresh in its last hour")
	}
}

func TestLogoutRevokesTokensAndSession(t *testing.T) {
	svc, tokens, _ := newSessionServiceForTest(t, 5)
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, testAdmin(8, "bye@icc.test"), testRequest, SessionOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Logout(ctx, created.Tokens.AccessToken, created.Tokens.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if res := tokens.VerifyAccessToken(ctx, created.Tokens.AccessToken); res.Valid {
		t.Fatal("access token should be revoked")
	}
	if res := tokens.VerifyRefreshToken(ctx, created.Tokens.RefreshToken); res.Valid {
		t.Fatal("refresh token should be revoked")
	}
	if _, err := svc.GetSession(ctx, created.Record.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session should be removed, got %v", err)
	}
	if err := svc.Logout(ctx, "", ""); err != nil {
		t.Fatalf("empty logout should succeed, got %v", err)
	}
}

func TestLogoutWithForgedTokenKeepsSession(t *testing.T) {
	svc, _, clock := newSessionServiceForTest(t, 5)
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, testAdmin(9, "victim@icc.test"), testRequest, SessionOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	forger := security.NewJWTManager("icc-admin-test", "forged-secret-that-is-long-enough-0123", testRefreshSecret).WithClock(clock.Now)
	sub := testSubject()
	sub.UserID = 9
	sub.SessionID = created.Record.SessionID
	forged, _, err := forger.SignAccessToken(sub)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := svc.Logout(ctx, forged, ""); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.GetSession(ctx, created.Record.SessionID); err != nil {
		t.Fatalf("forged logout must not remove the session, got %v", err)
	}
}
