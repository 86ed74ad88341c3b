package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/icc-admin-auth/internal/di"
	"github.com/sandeepkv93/icc-admin-auth/internal/observability"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin auth HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, lp, err := observability.NewLogger(ctx, cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			runtime, err := observability.InitRuntime(ctx, cfg, logger, lp)
			if err != nil {
				return fmt.Errorf("init observability: %w", err)
			}
			a, err := di.InitializeApp(ctx, cfg, logger, runtime)
			if err != nil {
				_ = runtime.Shutdown(context.WithoutCancel(ctx))
				return fmt.Errorf("initialize app: %w", err)
			}
			return a.Run(ctx)
		},
	}
}
