package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/kvstore"
	"github.com/sandeepkv93/icc-admin-auth/internal/observability"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
)

const (
	sessionPrefix      = "session:"
	sessionOwnerPrefix = "session_owner:"

	DefaultSessionMaxAge         = security.RefreshTokenTTL
	DefaultMaxConcurrentSessions = 5
	// PendingSessionTTL bounds how long an unverified login session lives.
	PendingSessionTTL = 15 * time.Minute
	maxRefreshWindow  = time.Hour
)

var (
	ErrSessionInvalid  = errors.New("session invalid")
	ErrSessionNotFound = errors.New("session not found")
)

type RequestContext struct {
	UserAgent string
	IP        string
}

type SessionOptions struct {
	MaxAge                time.Duration
	RequireTwoFactor      bool
	MaxConcurrentSessions int
}

type CreatedSession struct {
	Record *domain.SessionRecord
	Tokens *TokenPair
}

type SessionView struct {
	SessionID         string    `json:"sessionId"`
	UserAgent         string    `json:"userAgent"`
	IP                string    `json:"ip"`
	CreatedAt         time.Time `json:"createdAt"`
	LastAccessedAt    time.Time `json:"lastAccessedAt"`
	ExpiresAt         time.Time `json:"expiresAt"`
	TwoFactorVerified bool      `json:"twoFactorVerified"`
	IsTemporary       bool      `json:"isTemporary"`
	IsCurrent         bool      `json:"isCurrent"`
}

// SessionService owns server-side session records. Records live at
// session:{id}; session_owner:{ownerId} lists each owner's ids so listing and
// eviction never scan the keyspace.
type SessionService struct {
	store         kvstore.Store
	tokens        *TokenService
	now           func() time.Time
	maxConcurrent int
	locks         [lockStripes]sync.Mutex
}

func NewSessionService(store kvstore.Store, tokens *TokenService, maxConcurrent int) *SessionService {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrentSessions
	}
	return &SessionService{store: store, tokens: tokens, now: tokens.now, maxConcurrent: maxConcurrent}
}

func sessionKey(id string) string { return sessionPrefix + id }

func ownerKey(ownerID uint) string {
	return sessionOwnerPrefix + strconv.FormatUint(uint64(ownerID), 10)
}

func (s *SessionService) ownerLock(ownerID uint) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ownerKey(ownerID)))
	return &s.locks[h.Sum32()%lockStripes]
}

func subjectFor(rec *domain.SessionRecord) security.Subject {
	return security.Subject{
		UserID:            rec.OwnerID,
		Email:             rec.Email,
		Role:              rec.Role,
		Permissions:       rec.Permissions,
		SessionID:         rec.SessionID,
		TwoFactorVerified: rec.TwoFactorVerified,
	}
}

func (s *SessionService) CreateSession(ctx context.Context, owner *domain.AdminUser, req RequestContext, opts SessionOptions) (*CreatedSession, error) {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultSessionMaxAge
	}
	if opts.MaxConcurrentSessions < 1 {
		opts.MaxConcurrentSessions = s.maxConcurrent
	}
	now := s.now()
	rec := &domain.SessionRecord{
		SessionID:   uuid.NewString(),
		OwnerID:     owner.ID,
		Email:       owner.Email,
		Role:        owner.Role,
		Permissions: domain.PermissionsForRole(owner.Role),
		Device: domain.DeviceInfo{
			UserAgent:   req.UserAgent,
			IP:          req.IP,
			Fingerprint: security.SessionFingerprint(req.UserAgent, req.IP),
		},
		CreatedAt:         now,
		LastAccessedAt:    now,
		ExpiresAt:         now.Add(opts.MaxAge),
		TwoFactorVerified: !opts.RequireTwoFactor,
		IsTemporary:       opts.RequireTwoFactor,
	}
	ttl := opts.MaxAge
	if rec.IsTemporary && ttl > PendingSessionTTL {
		ttl = PendingSessionTTL
		rec.ExpiresAt = now.Add(ttl)
	}

	mu := s.ownerLock(owner.ID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.loadOwnerSessions(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	// Pending sessions do not evict verified ones; eviction runs on promotion.
	if !rec.IsTemporary {
		if existing, err = s.evictOldest(ctx, existing, opts.MaxConcurrentSessions-1); err != nil {
			return nil, err
		}
	}
	if err := kvstore.SetJSON(ctx, s.store, sessionKey(rec.SessionID), rec, ttl); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	ids := make([]string, 0, len(existing)+1)
	for _, e := range existing {
		ids = append(ids, e.SessionID)
	}
	ids = append(ids, rec.SessionID)
	if err := s.saveOwnerIndex(ctx, owner.ID, ids); err != nil {
		return nil, err
	}

	pair, err := s.tokens.CreateTokenPair(ctx, subjectFor(rec))
	if err != nil {
		return nil, err
	}
	observability.RecordSessionEvent("create")
	return &CreatedSession{Record: rec, Tokens: pair}, nil
}

// evictOldest deletes the oldest sessions until at most keep remain and returns the survivors.
func (s *SessionService) evictOldest(ctx context.Context, sessions []domain.SessionRecord, keep int) ([]domain.SessionRecord, error) {
	if keep < 0 {
		keep = 0
	}
	if len(sessions) <= keep {
		return sessions, nil
	}
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	drop := len(sessions) - keep
	for _, victim := range sessions[:drop] {
		if err := s.store.Del(ctx, sessionKey(victim.SessionID)); err != nil {
			return nil, fmt.Errorf("evict session: %w", err)
		}
		observability.RecordSessionEvent("evict")
	}
	return sessions[drop:], nil
}

func (s *SessionService) loadOwnerIndex(ctx context.Context, ownerID uint) ([]string, error) {
	ids, _, err := kvstore.GetJSON[[]string](ctx, s.store, ownerKey(ownerID))
	if err != nil {
		return nil, fmt.Errorf("load session index: %w", err)
	}
	return ids, nil
}

func (s *SessionService) saveOwnerIndex(ctx context.Context, ownerID uint, ids []string) error {
	if len(ids) == 0 {
		if err := s.store.Del(ctx, ownerKey(ownerID)); err != nil {
			return fmt.Errorf("save session index: %w", err)
		}
		return nil
	}
	if err := kvstore.SetJSON(ctx, s.store, ownerKey(ownerID), ids, DefaultSessionMaxAge); err != nil {
		return fmt.Errorf("save session index: %w", err)
	}
	return nil
}

// loadOwnerSessions resolves the owner index, dropping ids whose records have expired.
func (s *SessionService) loadOwnerSessions(ctx context.Context, ownerID uint) ([]domain.SessionRecord, error) {
	ids, err := s.loadOwnerIndex(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SessionRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := kvstore.GetJSON[domain.SessionRecord](ctx, s.store, sessionKey(id))
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	rec, ok, err := kvstore.GetJSON[domain.SessionRecord](ctx, s.store, sessionKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &rec, nil
}

func (s *SessionService) saveRecord(ctx context.Context, rec *domain.SessionRecord) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := kvstore.SetJSON(ctx, s.store, sessionKey(rec.SessionID), rec, ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SessionService) touch(ctx context.Context, rec *domain.SessionRecord) error {
	rec.LastAccessedAt = s.now()
	return s.saveRecord(ctx, rec)
}

// VerifySession validates the access token, loads its session and refreshes
// lastAccessedAt. Invalid tokens and vanished sessions yield ErrSessionInvalid.
func (s *SessionService) VerifySession(ctx context.Context, accessToken string) (*domain.SessionRecord, error) {
	res := s.tokens.VerifyAccessToken(ctx, accessToken)
	if !res.Valid {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, res.Err)
	}
	rec, err := s.sessionForClaims(ctx, res.Claims)
	if err != nil {
		return nil, err
	}
	if err := s.touch(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SessionService) sessionForClaims(ctx context.Context, claims *security.Claims) (*domain.SessionRecord, error) {
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, security.ErrMissingSessionID)
	}
	rec, err := s.GetSession(ctx, claims.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != claims.UserID {
		return nil, fmt.Errorf("%w: owner mismatch", ErrSessionInvalid)
	}
	return rec, nil
}

// RefreshSession mints a new access token (and possibly a rotated refresh
// token) for the session named in refreshToken.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (*domain.SessionRecord, *RefreshResult, error) {
	res := s.tokens.VerifyRefreshToken(ctx, refreshToken)
	if !res.Valid {
		return nil, nil, fmt.Errorf("%w: %v", ErrSessionInvalid, res.Err)
	}
	rec, err := s.sessionForClaims(ctx, res.Claims)
	if err != nil {
		return nil, nil, err
	}
	out, err := s.tokens.RefreshFor(ctx, res.Claims, subjectFor(rec))
	if err != nil {
		return nil, nil, err
	}
	if out.Rotated {
		if err := s.extendSession(ctx, rec, out.RefreshClaims.Expiry()); err != nil {
			return nil, nil, err
		}
		return rec, out, nil
	}
	if err := s.touch(ctx, rec); err != nil {
		return nil, nil, err
	}
	return rec, out, nil
}

// extendSession moves the session expiry out to a rotated refresh token's
// expiry so the new token outlives the original session lifetime. The owner
// index is rewritten too, its TTL would otherwise lapse first.
func (s *SessionService) extendSession(ctx context.Context, rec *domain.SessionRecord, until time.Time) error {
	mu := s.ownerLock(rec.OwnerID)
	mu.Lock()
	defer mu.Unlock()

	if until.After(rec.ExpiresAt) {
		rec.ExpiresAt = until
	}
	if err := s.touch(ctx, rec); err != nil {
		return err
	}
	ids, err := s.loadOwnerIndex(ctx, rec.OwnerID)
	if err != nil {
		return err
	}
	if !slices.Contains(ids, rec.SessionID) {
		ids = append(ids, rec.SessionID)
	}
	if err := s.saveOwnerIndex(ctx, rec.OwnerID, ids); err != nil {
		return err
	}
	observability.RecordSessionEvent("extend")
	return nil
}

// Verify2FA promotes a pending session to a verified one with the full
// lifetime, then enforces the owner's concurrency limit.
func (s *SessionService) Verify2FA(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	rec, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	mu := s.ownerLock(rec.OwnerID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	rec.TwoFactorVerified = true
	rec.IsTemporary = false
	rec.LastAccessedAt = now
	rec.ExpiresAt = now.Add(DefaultSessionMaxAge)
	if err := s.saveRecord(ctx, rec); err != nil {
		return nil, err
	}

	sessions, err := s.loadOwnerSessions(ctx, rec.OwnerID)
	if err != nil {
		return nil, err
	}
	others := make([]domain.SessionRecord, 0, len(sessions))
	for _, sess := range sessions {
		if sess.SessionID != rec.SessionID {
			others = append(others, sess)
		}
	}
	survivors, err := s.evictOldest(ctx, others, s.maxConcurrent-1)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(survivors)+1)
	for _, sess := range survivors {
		ids = append(ids, sess.SessionID)
	}
	ids = append(ids, rec.SessionID)
	if err := s.saveOwnerIndex(ctx, rec.OwnerID, ids); err != nil {
		return nil, err
	}
	observability.RecordSessionEvent("verify")
	return rec, nil
}

// IssueTokens signs a fresh token pair bound to an existing session.
func (s *SessionService) IssueTokens(ctx context.Context, rec *domain.SessionRecord) (*TokenPair, error) {
	return s.tokens.CreateTokenPair(ctx, subjectFor(rec))
}

func (s *SessionService) InvalidateSession(ctx context.Context, sessionID string) error {
	rec, err := s.GetSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.removeSessions(ctx, rec.OwnerID, func(r domain.SessionRecord) bool { return r.SessionID == sessionID })
	return err
}

func (s *SessionService) InvalidateAllSessions(ctx context.Context, ownerID uint) (int, error) {
	return s.removeSessions(ctx, ownerID, func(domain.SessionRecord) bool { return true })
}

func (s *SessionService) InvalidateOtherSessions(ctx context.Context, ownerID uint, keepSessionID string) (int, error) {
	return s.removeSessions(ctx, ownerID, func(r domain.SessionRecord) bool { return r.SessionID != keepSessionID })
}

func (s *SessionService) removeSessions(ctx context.Context, ownerID uint, match func(domain.SessionRecord) bool) (int, error) {
	mu := s.ownerLock(ownerID)
	mu.Lock()
	defer mu.Unlock()

	sessions, err := s.loadOwnerSessions(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	keep := make([]string, 0, len(sessions))
	removed := 0
	for _, rec := range sessions {
		if !match(rec) {
			keep = append(keep, rec.SessionID)
			continue
		}
		if err := s.store.Del(ctx, sessionKey(rec.SessionID)); err != nil {
			return removed, fmt.Errorf("delete session: %w", err)
		}
		removed++
		observability.RecordSessionEvent("destroy")
	}
	if err := s.saveOwnerIndex(ctx, ownerID, keep); err != nil {
		return removed, err
	}
	return removed, nil
}

// GetAdminSessions lists the owner's live sessions, most recently used first.
func (s *SessionService) GetAdminSessions(ctx context.Context, ownerID uint) ([]domain.SessionRecord, error) {
	sessions, err := s.loadOwnerSessions(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastAccessedAt.After(sessions[j].LastAccessedAt)
	})
	return sessions, nil
}

func (s *SessionService) ListSessionViews(ctx context.Context, ownerID uint, currentSessionID string) ([]SessionView, error) {
	sessions, err := s.GetAdminSessions(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, rec := range sessions {
		views = append(views, SessionView{
			SessionID:         rec.SessionID,
			UserAgent:         rec.Device.UserAgent,
			IP:                rec.Device.IP,
			CreatedAt:         rec.CreatedAt,
			LastAccessedAt:    rec.LastAccessedAt,
			ExpiresAt:         rec.ExpiresAt,
			TwoFactorVerified: rec.TwoFactorVerified,
			IsTemporary:       rec.IsTemporary,
			IsCurrent:         rec.SessionID == currentSessionID,
		})
	}
	return views, nil
}

// ListAllSessions scans every session key. Operator tooling only.
func (s *SessionService) ListAllSessions(ctx context.Context) ([]domain.SessionRecord, error) {
	keys, err := s.store.Keys(ctx, sessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("list session keys: %w", err)
	}
	out := make([]domain.SessionRecord, 0, len(keys))
	for _, key := range keys {
		rec, ok, err := kvstore.GetJSON[domain.SessionRecord](ctx, s.store, key)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if ok {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastAccessedAt.After(out[j].LastAccessedAt) })
	return out, nil
}

// NeedsRefresh reports whether token is unparsable or within min(1h, lifetime/3) of expiry.
// A flat one hour threshold would flag every 15 minute access token from the
// moment it is issued, so short-lived tokens use a third of their lifetime.
func (s *SessionService) NeedsRefresh(token string) bool {
	claims, err := security.ParseUnverified(token)
	if err != nil || claims.ExpiresAt == nil {
		return true
	}
	exp := claims.ExpiresAt.Time
	threshold := maxRefreshWindow
	if claims.IssuedAt != nil {
		if third := exp.Sub(claims.IssuedAt.Time) / 3; third < threshold {
			threshold = third
		}
	}
	return !s.now().Before(exp.Add(-threshold))
}

// Logout revokes both tokens and deletes their session. Either token may be
// empty. The session is only removed when one of the tokens carries a valid signature.
func (s *SessionService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	var sessionID string
	if res := s.tokens.VerifyAccessToken(ctx, accessToken); res.Valid {
		sessionID = res.Claims.SessionID
	} else if res := s.tokens.VerifyRefreshToken(ctx, refreshToken); res.Valid {
		sessionID = res.Claims.SessionID
	}

	var errs []error
	for _, raw := range []string{accessToken, refreshToken} {
		if raw == "" {
			continue
		}
		if claims, err := s.tokens.RevokeToken(ctx, raw); err != nil && claims != nil {
			errs = append(errs, err)
		}
	}
	if sessionID != "" {
		if err := s.InvalidateSession(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
