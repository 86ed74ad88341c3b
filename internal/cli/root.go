// Package cli wires the icc-admin operator commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/icc-admin-auth/internal/config"
	"github.com/sandeepkv93/icc-admin-auth/internal/kvstore"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
	"github.com/sandeepkv93/icc-admin-auth/internal/service"
	"github.com/sandeepkv93/icc-admin-auth/internal/tools/obscheck"
)

type rootOptions struct {
	envFile string
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "icc-admin",
		Short:         "ICC admin authentication service and operator tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file read before the environment (default .env when present)")
	cmd.AddCommand(
		newServeCommand(opts),
		newAdminCommand(opts),
		newSessionsCommand(opts),
		newRateLimitCommand(opts),
		obscheck.NewRootCommand(),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.envFile == "" {
		cfg, err = config.LoadFrom(".env")
	} else {
		cfg, err = config.LoadRequired(o.envFile)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// operatorLogger keeps tool output on stderr so stdout stays parseable.
func operatorLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type kvServices struct {
	store    kvstore.Store
	sessions *service.SessionService
	limiters *service.RateLimiters
}

func openKV(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*kvServices, error) {
	store, err := kvstore.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if !store.Durable() {
		logger.Warn("no external kv store configured; this process sees only its own empty in-memory state")
	}
	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTSecret, cfg.SessionSecret)
	tokens := service.NewTokenService(jwtMgr, store)
	return &kvServices{
		store:    store,
		sessions: service.NewSessionService(store, tokens, cfg.MaxConcurrentSessions),
		limiters: service.NewRateLimiters(store, service.NewIPWhitelist(cfg.AdminIPWhitelistList())),
	}, nil
}
