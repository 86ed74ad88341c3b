package service

import (
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/kvstore"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
)

const (
	testAccessSecret  = "access-secret-for-tests-0123456789abcdef"
	testRefreshSecret = "refresh-secret-for-tests-0123456789abcdef"
)

func newRedisClientForTest(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return server, client
}

func newDurableStoreForTest(t *testing.T) (*miniredis.Miniredis, kvstore.Store) {
	t.Helper()
	server, client := newRedisClientForTest(t)
	return server, kvstore.NewRedisStore(client)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTokenServiceForTest(clock *fakeClock, store kvstore.Store) *TokenService {
	jwtMgr := security.NewJWTManager("icc-admin-test", testAccessSecret, testRefreshSecret).WithClock(clock.Now)
	return NewTokenService(jwtMgr, store)
}

func testAdmin(id uint, email string) *domain.AdminUser {
	return &domain.AdminUser{ID: id, Email: email, Name: "Test Admin", Role: domain.RoleAdmin, Active: true}
}
