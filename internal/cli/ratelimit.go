package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRateLimitCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "ratelimit", Short: "Inspect and clear rate limit entries"}
	cmd.AddCommand(
		newRateLimitStatusCommand(root),
		newRateLimitResetCommand(root),
	)
	return cmd
}

func newRateLimitStatusCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <policy> <client-id>",
		Short: "Show the current decision for a client",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			kv, err := openKV(cmd.Context(), cfg, operatorLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer func() { _ = kv.store.Close() }()

			limiter, ok := kv.limiters.ByName(args[0])
			if !ok {
				return fmt.Errorf("unknown policy %q", args[0])
			}
			d, err := limiter.GetStatus(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "policy=%s client=%s allowed=%t blocked=%t remaining=%d/%d reset=%s\n",
				args[0], args[1], d.Allowed, d.Blocked, d.Remaining, d.Limit, d.ResetAt.UTC().Format(time.RFC3339))
			return err
		},
	}
}

func newRateLimitResetCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <policy> <client-id>",
		Short: "Clear the counter and any block for a client",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			kv, err := openKV(cmd.Context(), cfg, operatorLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer func() { _ = kv.store.Close() }()

			limiter, ok := kv.limiters.ByName(args[0])
			if !ok {
				return fmt.Errorf("unknown policy %q", args[0])
			}
			if err := limiter.ResetLimit(cmd.Context(), args[1]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "reset %s for %s\n", args[0], args[1])
			return err
		},
	}
}
