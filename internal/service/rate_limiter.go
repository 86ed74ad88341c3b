package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/kvstore"
	"github.com/sandeepkv93/icc-admin-auth/internal/observability"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
)

const rateLimitPrefix = "rate_limit:"

type RateLimitPolicy struct {
	Name        string
	Window      time.Duration
	MaxAttempts int
	// BlockDuration defaults to Window when zero.
	BlockDuration  time.Duration
	ResetOnSuccess bool
}

var (
	AdminLoginPolicy    = RateLimitPolicy{Name: "admin_login", Window: 15 * time.Minute, MaxAttempts: 3, BlockDuration: 60 * time.Minute, ResetOnSuccess: true}
	TwoFactorPolicy     = RateLimitPolicy{Name: "two_factor", Window: 10 * time.Minute, MaxAttempts: 10, BlockDuration: 15 * time.Minute, ResetOnSuccess: true}
	GeneralAPIPolicy    = RateLimitPolicy{Name: "api", Window: time.Minute, MaxAttempts: 60, BlockDuration: 5 * time.Minute}
	ContactFormPolicy   = RateLimitPolicy{Name: "contact_form", Window: 10 * time.Minute, MaxAttempts: 3, BlockDuration: 30 * time.Minute}
	PasswordResetPolicy = RateLimitPolicy{Name: "password_reset", Window: 60 * time.Minute, MaxAttempts: 3, BlockDuration: 24 * time.Hour}
)

func Policies() []RateLimitPolicy {
	return []RateLimitPolicy{AdminLoginPolicy, TwoFactorPolicy, GeneralAPIPolicy, ContactFormPolicy, PasswordResetPolicy}
}

func PolicyByName(name string) (RateLimitPolicy, bool) {
	for _, p := range Policies() {
		if p.Name == name {
			return p, true
		}
	}
	return RateLimitPolicy{}, false
}

type RateLimitDecision struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
	Blocked   bool
}

// RetryAfter is the wait until ResetAt, at least one second when denied.
func (d RateLimitDecision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait
}

// IPWhitelist holds addresses that are never rate limited. Loopback is always included.
type IPWhitelist struct {
	ips map[string]struct{}
}

func NewIPWhitelist(extra []string) *IPWhitelist {
	wl := &IPWhitelist{ips: map[string]struct{}{"127.0.0.1": {}, "::1": {}}}
	for _, ip := range extra {
		if parsed := net.ParseIP(strings.TrimSpace(ip)); parsed != nil {
			wl.ips[parsed.String()] = struct{}{}
		}
	}
	return wl
}

func (w *IPWhitelist) Contains(ip string) bool {
	if w == nil {
		return false
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	_, ok := w.ips[parsed.String()]
	return ok
}

// ClientID is the bare ip for whitelisted addresses and ip|sha256(ua)[:16] otherwise.
func (w *IPWhitelist) ClientID(ip, userAgent string) string {
	if w.Contains(ip) {
		return ip
	}
	return ip + "|" + security.UserAgentDigest(userAgent)
}

const lockStripes = 64

// RateLimiter counts attempts per client in the key-value store. The
// read-modify-write is serialized per key within this process only; two
// instances sharing a durable store can undercount under concurrent bursts.
type RateLimiter struct {
	policy    RateLimitPolicy
	store     kvstore.Store
	whitelist *IPWhitelist
	now       func() time.Time
	locks     [lockStripes]sync.Mutex
}

func NewRateLimiter(policy RateLimitPolicy, store kvstore.Store, whitelist *IPWhitelist) *RateLimiter {
	if policy.BlockDuration <= 0 {
		policy.BlockDuration = policy.Window
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RateLimiter{policy: policy, store: store, whitelist: whitelist, now: time.Now}
}

// WithClock replaces the limiter clock; used by tests.
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

func (l *RateLimiter) Policy() RateLimitPolicy { return l.policy }

func (l *RateLimiter) Whitelist() *IPWhitelist { return l.whitelist }

// EffectiveLimits returns the max attempts and window in force. Without a
// durable store the limiter halves the attempts and shortens the window to 80%.
func (l *RateLimiter) EffectiveLimits() (int, time.Duration) {
	if l.store.Durable() {
		return l.policy.MaxAttempts, l.policy.Window
	}
	maxAttempts := l.policy.MaxAttempts / 2
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return maxAttempts, l.policy.Window * 8 / 10
}

func (l *RateLimiter) key(clientID string) string {
	return rateLimitPrefix + l.policy.Name + ":" + clientID
}

func (l *RateLimiter) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.locks[h.Sum32()%lockStripes]
}

func (l *RateLimiter) IsAllowed(ctx context.Context, clientID string) (RateLimitDecision, error) {
	maxAttempts, window := l.EffectiveLimits()
	now := l.now()
	if l.whitelist.Contains(clientID) {
		return RateLimitDecision{Allowed: true, Remaining: maxAttempts, Limit: maxAttempts, ResetAt: now.Add(window)}, nil
	}

	key := l.key(clientID)
	mu := l.lock(key)
	mu.Lock()
	defer mu.Unlock()

	entry, ok, err := kvstore.GetJSON[domain.RateLimitEntry](ctx, l.store, key)
	if err != nil {
		return RateLimitDecision{}, fmt.Errorf("load rate limit entry: %w", err)
	}

	if ok && entry.Blocked && now.Before(entry.BlockedUntil) {
		observability.RecordRateLimitDecision(l.policy.Name, "blocked")
		return RateLimitDecision{Limit: maxAttempts, ResetAt: entry.BlockedUntil, Blocked: true}, nil
	}

	switch {
	case !ok, entry.Blocked, now.Sub(entry.FirstAttempt) > window:
		entry = domain.RateLimitEntry{Count: 1, FirstAttempt: now}
	default:
		entry.Count++
	}

	if entry.Count > maxAttempts {
		entry.Blocked = true
		entry.BlockedUntil = now.Add(l.policy.BlockDuration)
		if err := kvstore.SetJSON(ctx, l.store, key, entry, l.policy.BlockDuration); err != nil {
			return RateLimitDecision{}, fmt.Errorf("save rate limit entry: %w", err)
		}
		observability.RecordRateLimitDecision(l.policy.Name, "blocked")
		return RateLimitDecision{Limit: maxAttempts, ResetAt: entry.BlockedUntil, Blocked: true}, nil
	}

	resetAt := entry.FirstAttempt.Add(window)
	ttl := resetAt.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := kvstore.SetJSON(ctx, l.store, key, entry, ttl); err != nil {
		return RateLimitDecision{}, fmt.Errorf("save rate limit entry: %w", err)
	}
	observability.RecordRateLimitDecision(l.policy.Name, "allowed")
	return RateLimitDecision{Allowed: true, Remaining: maxAttempts - entry.Count, Limit: maxAttempts, ResetAt: resetAt}, nil
}

// RecordSuccess drops the client's entry when the policy resets on success.
func (l *RateLimiter) RecordSuccess(ctx context.Context, clientID string) error {
	if !l.policy.ResetOnSuccess {
		return nil
	}
	return l.ResetLimit(ctx, clientID)
}

// BlockClient blocks clientID for d regardless of its current count.
func (l *RateLimiter) BlockClient(ctx context.Context, clientID string, d time.Duration) error {
	if d <= 0 {
		d = l.policy.BlockDuration
	}
	now := l.now()
	key := l.key(clientID)
	mu := l.lock(key)
	mu.Lock()
	defer mu.Unlock()

	maxAttempts, _ := l.EffectiveLimits()
	entry := domain.RateLimitEntry{Count: maxAttempts + 1, FirstAttempt: now, Blocked: true, BlockedUntil: now.Add(d)}
	if err := kvstore.SetJSON(ctx, l.store, key, entry, d); err != nil {
		return fmt.Errorf("block client: %w", err)
	}
	observability.RecordRateLimitDecision(l.policy.Name, "admin_block")
	return nil
}

// GetStatus reports the current decision for clientID without counting an attempt.
func (l *RateLimiter) GetStatus(ctx context.Context, clientID string) (RateLimitDecision, error) {
	maxAttempts, window := l.EffectiveLimits()
	now := l.now()
	if l.whitelist.Contains(clientID) {
		return RateLimitDecision{Allowed: true, Remaining: maxAttempts, Limit: maxAttempts, ResetAt: now.Add(window)}, nil
	}
	entry, ok, err := kvstore.GetJSON[domain.RateLimitEntry](ctx, l.store, l.key(clientID))
	if err != nil {
		return RateLimitDecision{}, fmt.Errorf("load rate limit entry: %w", err)
	}
	if !ok || (!entry.Blocked && now.Sub(entry.FirstAttempt) > window) || (entry.Blocked && !now.Before(entry.BlockedUntil)) {
		return RateLimitDecision{Allowed: true, Remaining: maxAttempts, Limit: maxAttempts, ResetAt: now.Add(window)}, nil
	}
	if entry.Blocked {
		return RateLimitDecision{Limit: maxAttempts, ResetAt: entry.BlockedUntil, Blocked: true}, nil
	}
	remaining := maxAttempts - entry.Count
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitDecision{Allowed: remaining > 0, Remaining: remaining, Limit: maxAttempts, ResetAt: entry.FirstAttempt.Add(window)}, nil
}

func (l *RateLimiter) ResetLimit(ctx context.Context, clientID string) error {
	key := l.key(clientID)
	mu := l.lock(key)
	mu.Lock()
	defer mu.Unlock()
	if err := l.store.Del(ctx, key); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

// RateLimiters groups one limiter per predefined policy over a shared store and whitelist.
type RateLimiters struct {
	Login         *RateLimiter
	TwoFactor     *RateLimiter
	API           *RateLimiter
	ContactForm   *RateLimiter
	PasswordReset *RateLimiter
	Whitelist     *IPWhitelist
}

func NewRateLimiters(store kvstore.Store, whitelist *IPWhitelist) *RateLimiters {
	return &RateLimiters{
		Login:         NewRateLimiter(AdminLoginPolicy, store, whitelist),
		TwoFactor:     NewRateLimiter(TwoFactorPolicy, store, whitelist),
		API:           NewRateLimiter(GeneralAPIPolicy, store, whitelist),
		ContactForm:   NewRateLimiter(ContactFormPolicy, store, whitelist),
		PasswordReset: NewRateLimiter(PasswordResetPolicy, store, whitelist),
		Whitelist:     whitelist,
	}
}

func (r *RateLimiters) ByName(name string) (*RateLimiter, bool) {
	for _, l := range []*RateLimiter{r.Login, r.TwoFactor, r.API, r.ContactForm, r.PasswordReset} {
		if l.policy.Name == name {
			return l, true
		}
	}
	return nil, false
}
