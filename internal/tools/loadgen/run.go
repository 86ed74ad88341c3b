// Package loadgen drives synthetic traffic at a running admin API to exercise
// its rate limiting.
package loadgen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        uint64
}

type Result struct {
	TotalRequests int
	Failures      int
	RateLimited   int
	StatusClasses map[string]int
}

type request struct {
	method string
	path   string
	body   string
	csrf   bool
}

var profiles = map[string][]request{
	"health":  {{method: http.MethodGet, path: "/health/live"}},
	"contact": {{method: http.MethodPost, path: "/api/contact", body: `{"name":"Load Test","email":"load@example.com","message":"availability check"}`}},
	"login":   {{method: http.MethodPost, path: "/api/admin/auth/login", body: `{"email":"loadgen@example.com","password":"not-the-password"}`, csrf: true}},
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "mixed"
	}
	return p
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func requestsFor(profile string) ([]request, error) {
	if profile == "mixed" {
		var all []request
		for _, name := range []string{"health", "contact", "login"} {
			all = append(all, profiles[name]...)
		}
		return all, nil
	}
	reqs, ok := profiles[profile]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
	return reqs, nil
}

type recorder struct {
	mu  sync.Mutex
	res Result
}

func (r *recorder) add(status int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.res.TotalRequests++
	if err != nil {
		r.res.Failures++
		r.res.StatusClasses["error"]++
		return
	}
	class := classifyStatusClass(status)
	r.res.StatusClasses[class]++
	if status == http.StatusTooManyRequests {
		r.res.RateLimited++
	}
	if class == "5xx" {
		r.res.Failures++
	}
}

// Run issues requests at cfg.RPS for cfg.Duration across cfg.Concurrency workers.
func Run(ctx context.Context, cfg Config) (Result, error) {
	reqs, err := requestsFor(normalizeProfile(cfg.Profile))
	if err != nil {
		return Result{}, err
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 5 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	jar, err := cookiejar.New(nil)
	if err != nil {
		return Result{}, err
	}
	client := &http.Client{Timeout: 10 * time.Second, Jar: jar}
	csrf, err := fetchCSRF(ctx, client, base)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	work := make(chan request)
	rec := &recorder{res: Result{StatusClasses: map[string]int{}}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(work)
		ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				select {
				case work <- reqs[rng.IntN(len(reqs))]:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for r := range work {
				status, err := send(gctx, client, base, csrf, r)
				if gctx.Err() != nil {
					return nil
				}
				rec.add(status, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rec.res, err
	}
	return rec.res, nil
}

func fetchCSRF(ctx context.Context, client *http.Client, base string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/admin/auth/csrf", nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	for _, c := range resp.Cookies() {
		if c.Name == "icc_admin_csrf" {
			return c.Value, nil
		}
	}
	return "", nil
}

func send(ctx context.Context, client *http.Client, base, csrf string, r request) (int, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, base+r.path, strings.NewReader(r.body))
	if err != nil {
		return 0, err
	}
	if r.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.csrf && csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	req.Header.Set("User-Agent", "icc-admin-loadgen")
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
