// Package kvstore provides the key-value backends used for sessions, token
// blacklists, OTP bookkeeping and rate-limit counters.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/icc-admin-auth/internal/observability"
)

var ErrEmptyKey = errors.New("kvstore: empty key")

// Store is a string-keyed byte store with optional per-key expiry.
// A ttl <= 0 stores the value without expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Durable() bool
	Ping(ctx context.Context) error
	Close() error
}

func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var out T
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, true, nil
}

func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}

func record(backend, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.RecordStoreOperation(backend, op, outcome)
}
