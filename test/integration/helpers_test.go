package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/icc-admin-auth/internal/config"
	"github.com/sandeepkv93/icc-admin-auth/internal/di"
	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
)

const (
	adminEmail    = "ops.lead@icc.test"
	adminPassword = "correct horse battery staple"
	adminDevice   = "laptop-7f3a9c21"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type testServer struct {
	baseURL string
	client  *http.Client
	db      *gorm.DB
	csrf    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "admin.db") + "?_busy_timeout=5000"
	cfg := &config.Config{
		AppEnv:                config.EnvDevelopment,
		HTTPAddr:              "127.0.0.1:0",
		DBDriver:              "sqlite",
		DBURL:                 dsn,
		JWTSecret:             "integration-access-secret-0123456789",
		SessionSecret:         "integration-refresh-secret-9876543210",
		JWTIssuer:             "icc-admin-integration",
		BcryptCost:            4,
		MaxConcurrentSessions: 5,
		ReadHeaderTimeout:     5 * time.Second,
		ShutdownTimeout:       5 * time.Second,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())

	a, err := di.InitializeApp(ctx, cfg, log, nil)
	if err != nil {
		cancel()
		t.Fatalf("initialize app: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	hash, err := security.NewHasher(4).Hash(adminPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := db.Create(&domain.AdminUser{Email: adminEmail, Name: "Ops Lead", PasswordHash: hash, Role: domain.RoleAdmin, Active: true}).Error; err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	ts := &testServer{baseURL: srv.URL, client: &http.Client{Jar: jar, Timeout: 10 * time.Second}, db: db}
	t.Cleanup(func() {
		srv.Close()
		_ = a.Shutdown(context.Background())
		cancel()
	})

	resp, env := ts.do(t, http.MethodGet, "/api/admin/auth/csrf", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("csrf bootstrap failed: %d", resp.StatusCode)
	}
	var payload struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.CSRFToken == "" {
		t.Fatalf("decode csrf payload: %v", err)
	}
	ts.csrf = payload.CSRFToken
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.baseURL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ts.csrf != "" {
		req.Header.Set(security.CSRFHeaderName, ts.csrf)
	}
	req.Header.Set("User-Agent", "integration-browser/1.0")
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope for %s %s: %v body=%s", method, path, err, raw)
	}
	return resp, env
}

func (ts *testServer) cookie(t *testing.T, name string) string {
	t.Helper()
	u, err := url.Parse(ts.baseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	for _, c := range ts.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (ts *testServer) admin(t *testing.T) domain.AdminUser {
	t.Helper()
	var u domain.AdminUser
	if err := ts.db.Where("email = ?", adminEmail).First(&u).Error; err != nil {
		t.Fatalf("load admin: %v", err)
	}
	return u
}

func (ts *testServer) login(t *testing.T, device string) (*http.Response, apiEnvelope) {
	t.Helper()
	return ts.do(t, http.MethodPost, "/api/admin/auth/login", map[string]string{
		"email":    adminEmail,
		"password": adminPassword,
		"deviceId": device,
	})
}

func (ts *testServer) verify(t *testing.T, code, device string) (*http.Response, apiEnvelope) {
	t.Helper()
	return ts.do(t, http.MethodPost, "/api/admin/auth/verify", map[string]string{
		"email":    adminEmail,
		"code":     code,
		"deviceId": device,
	})
}
