package kvstore

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/sandeepkv93/icc-admin-auth/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestNewSelectsBackend(t *testing.T) {
	server := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cases := []struct {
		name        string
		cfg         config.Config
		wantDurable bool
		wantType    string
	}{
		{name: "flag off", cfg: config.Config{KVURL: "redis://" + server.Addr(), KVToken: "t"}, wantType: "memory"},
		{name: "missing token", cfg: config.Config{KVUseExternal: true, KVURL: "redis://" + server.Addr()}, wantType: "memory"},
		{name: "missing url", cfg: config.Config{KVUseExternal: true, KVToken: "t"}, wantType: "memory"},
		{name: "redis url", cfg: config.Config{KVUseExternal: true, KVURL: "redis://" + server.Addr(), KVToken: "t"}, wantDurable: true, wantType: "redis"},
		{name: "rest url", cfg: config.Config{KVUseExternal: true, KVURL: "https://kv.example.com", KVToken: "t"}, wantDurable: true, wantType: "rest"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := New(ctx, &tc.cfg, testLogger())
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer s.Close()
			if s.Durable() != tc.wantDurable {
				t.Fatalf("Durable()=%v want %v", s.Durable(), tc.wantDurable)
			}
			var gotType string
			switch s.(type) {
			case *MemoryStore:
				gotType = "memory"
			case *RedisStore:
				gotType = "redis"
			case *RESTStore:
				gotType = "rest"
			}
			if gotType != tc.wantType {
				t.Fatalf("got %s store, want %s", gotType, tc.wantType)
			}
		})
	}
}

func TestNewRejectsUnknownScheme(t *testing.T) {
	cfg := config.Config{KVUseExternal: true, KVURL: "memcache://x", KVToken: "t"}
	if _, err := New(context.Background(), &cfg, testLogger()); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}
