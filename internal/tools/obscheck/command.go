// Package obscheck verifies a running deployment: readiness of its
// dependencies and that rate limiting actually engages under load.
package obscheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/icc-admin-auth/internal/tools/common"
	"github.com/sandeepkv93/icc-admin-auth/internal/tools/loadgen"
	"github.com/sandeepkv93/icc-admin-auth/internal/tools/ui"
)

type options struct {
	baseURL  string
	ci       bool
	profile  string
	duration time.Duration
	rps      int
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "check", Short: "Verify a running deployment"}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newReadyCommand(opts), newRateLimitCommand(opts))
	return cmd
}

func newReadyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Query /health/ready and report each dependency",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "readiness", func(ctx context.Context) ([]string, error) {
				return checkReady(ctx, opts.baseURL)
			})
			return finish(opts, "ready", details, err)
		},
	}
}

func newRateLimitCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Generate traffic and confirm the limiter answers 429",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "rate limit "+opts.profile, func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, loadgen.Config{
					BaseURL:     opts.baseURL,
					Profile:     opts.profile,
					Duration:    opts.duration,
					RPS:         opts.rps,
					Concurrency: 4,
					Seed:        42,
				})
				if err != nil {
					return nil, err
				}
				return evaluateLoad(res)
			})
			return finish(opts, "ratelimit", details, err)
		},
	}
	cmd.Flags().StringVar(&opts.profile, "profile", "login", "traffic profile: login, contact, health or mixed")
	cmd.Flags().DurationVar(&opts.duration, "duration", 5*time.Second, "how long to generate traffic")
	cmd.Flags().IntVar(&opts.rps, "rps", 20, "requests per second")
	return cmd
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

func finish(opts *options, check string, details []string, err error) error {
	if opts.ci {
		common.PrintCIResult(err == nil, check, details, err)
		if err != nil {
			os.Exit(4)
		}
		return nil
	}
	return err
}

type readyPayload struct {
	Success bool `json:"success"`
	Data    struct {
		Status string        `json:"status"`
		Checks []checkResult `json:"checks"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Details struct {
			Checks []checkResult `json:"checks"`
		} `json:"details"`
	} `json:"error"`
}

type checkResult struct {
	Name       string `json:"name"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error"`
	DurationMS int64  `json:"duration_ms"`
}

func checkReady(ctx context.Context, baseURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health/ready", nil)
	if err != nil {
		return nil, err
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var payload readyPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode readiness payload: %w", err)
	}
	checks := payload.Data.Checks
	if payload.Error != nil {
		checks = payload.Error.Details.Checks
	}
	details := make([]string, 0, len(checks))
	for _, c := range checks {
		state := "ok"
		if !c.Healthy {
			state = "FAIL " + c.Error
		}
		details = append(details, fmt.Sprintf("%s: %s (%dms)", c.Name, state, c.DurationMS))
	}
	if resp.StatusCode != http.StatusOK {
		return details, fmt.Errorf("service not ready: %s", resp.Status)
	}
	return details, nil
}

func evaluateLoad(res loadgen.Result) ([]string, error) {
	details := []string{
		fmt.Sprintf("requests=%d failures=%d rate_limited=%d", res.TotalRequests, res.Failures, res.RateLimited),
	}
	for _, class := range []string{"2xx", "3xx", "4xx", "5xx", "error"} {
		if n := res.StatusClasses[class]; n > 0 {
			details = append(details, fmt.Sprintf("%s=%d", class, n))
		}
	}
	if res.TotalRequests == 0 {
		return details, fmt.Errorf("no requests completed")
	}
	if res.Failures > 0 {
		return details, fmt.Errorf("%d requests failed", res.Failures)
	}
	if res.RateLimited == 0 {
		return details, fmt.Errorf("limiter never engaged")
	}
	return details, nil
}
