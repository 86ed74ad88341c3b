package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/icc-admin-auth/internal/config"
)

// New picks the backing store. The durable store is only used when
// KV_USE_EXTERNAL is set and both KV_URL and KV_TOKEN are present.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if !cfg.ExternalStoreConfigured() {
		if cfg.KVUseExternal {
			logger.Warn("external kv requested but KV_URL or KV_TOKEN missing, using in-memory store")
		} else {
			logger.Warn("using in-memory kv store; sessions and rate limits are per-instance and lost on restart")
		}
		mem := NewMemoryStore()
		mem.StartSweeper(ctx, time.Minute)
		return mem, nil
	}

	url := strings.TrimSpace(cfg.KVURL)
	switch {
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse KV_URL: %w", err)
		}
		if opts.Password == "" {
			opts.Password = cfg.KVToken
		}
		logger.Info("using redis kv store", "addr", opts.Addr)
		return NewRedisStore(redis.NewClient(opts)), nil
	case strings.HasPrefix(url, "https://"), strings.HasPrefix(url, "http://"):
		logger.Info("using rest kv store")
		return NewRESTStore(url, cfg.KVToken, nil), nil
	default:
		return nil, fmt.Errorf("parse KV_URL: unsupported scheme in %q", url)
	}
}
