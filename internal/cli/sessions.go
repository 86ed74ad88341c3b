package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/tools/ui"
)

func newSessionsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Inspect and terminate admin sessions"}
	cmd.AddCommand(newListSessionsCommand(root), newTerminateSessionsCommand(root))
	return cmd
}

func newListSessionsCommand(root *rootOptions) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every session in the kv store",
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

			records, err := kv.sessions.ListAllSessions(cmd.Context())
			if err != nil {
				return err
			}
			if interactive {
				return ui.BrowseSessions(sessionRows(records), func(id string) error {
					return kv.sessions.InvalidateSession(cmd.Context(), id)
				})
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "SESSION\tOWNER\tIP\tVERIFIED\tLAST SEEN\tEXPIRES")
			for _, r := range records {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
					r.SessionID, r.Email, r.Device.IP, r.TwoFactorVerified,
					r.LastAccessedAt.UTC().Format(time.RFC3339), r.ExpiresAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "browse and terminate sessions interactively")
	return cmd
}

func newTerminateSessionsCommand(root *rootOptions) *cobra.Command {
	var userID uint
	cmd := &cobra.Command{
		Use:   "terminate [session-id]",
		Short: "Terminate one session, or every session of --user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (userID == 0) {
				return fmt.Errorf("pass either a session id or --user")
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			kv, err := openKV(cmd.Context(), cfg, operatorLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer func() { _ = kv.store.Close() }()

			if userID != 0 {
				n, err := kv.sessions.InvalidateAllSessions(cmd.Context(), userID)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "terminated %d sessions for user %d\n", n, userID)
				return err
			}
			if err := kv.sessions.InvalidateSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "terminated %s\n", args[0])
			return err
		},
	}
	cmd.Flags().UintVar(&userID, "user", 0, "terminate every session of this admin user id")
	return cmd
}

func sessionRows(records []domain.SessionRecord) []ui.SessionRow {
	rows := make([]ui.SessionRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, ui.SessionRow{
			SessionID:      r.SessionID,
			Owner:          r.Email,
			IP:             r.Device.IP,
			UserAgent:      r.Device.UserAgent,
			Verified:       r.TwoFactorVerified,
			LastAccessedAt: r.LastAccessedAt,
			ExpiresAt:      r.ExpiresAt,
		})
	}
	return rows
}
