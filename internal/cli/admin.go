package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/icc-admin-auth/internal/audit"
	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/repository"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
	"github.com/sandeepkv93/icc-admin-auth/internal/service"
)

type createAdminOptions struct {
	email         string
	name          string
	role          string
	passwordStdin bool
}

func newAdminCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Manage admin accounts"}
	cmd.AddCommand(
		newCreateAdminCommand(root),
		newSetActiveCommand(root, "deactivate", false),
		newSetActiveCommand(root, "activate", true),
	)
	return cmd
}

func newCreateAdminCommand(root *rootOptions) *cobra.Command {
	opts := &createAdminOptions{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger := operatorLogger(cmd.ErrOrStderr())
			db, err := repository.OpenDB(cfg, logger)
			if err != nil {
				return err
			}
			password, err := readPassword(cmd.InOrStdin(), opts.passwordStdin)
			if err != nil {
				return err
			}
			user, err := buildAdmin(opts, password, security.NewHasher(cfg.BcryptCost))
			if err != nil {
				return err
			}
			if err := repository.NewAdminUserRepository(db).Create(cmd.Context(), user); err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created admin %d %s (%s)\n", user.ID, user.Email, user.Role)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.email, "email", "", "login email")
	cmd.Flags().StringVar(&opts.name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.role, "role", string(domain.RoleAdmin), "super_admin, admin, editor or viewer")
	cmd.Flags().BoolVar(&opts.passwordStdin, "password-stdin", true, "read the password from the first line of stdin")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSetActiveCommand(root *rootOptions, use string, active bool) *cobra.Command {
	var email string
	short := "Reactivate an admin account"
	if !active {
		short = "Deactivate an admin account and terminate its sessions"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			logger := operatorLogger(cmd.ErrOrStderr())
			db, err := repository.OpenDB(cfg, logger)
			if err != nil {
				return err
			}
			kv, err := openKV(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = kv.store.Close() }()

			users := repository.NewAdminUserRepository(db)
			user, err := users.FindByEmail(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("find admin %s: %w", email, err)
			}
			accounts := service.NewAccountService(users, kv.sessions, audit.NewLogSink(logger), logger)
			change, err := accounts.SetActive(cmd.Context(), 0, user.ID, active)
			if err != nil {
				return err
			}
			return printAccountChange(cmd.OutOrStdout(), change)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login email of the account")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func printAccountChange(w io.Writer, change *service.AccountChange) error {
	state := "inactive"
	if change.User.Active {
		state = "active"
	}
	_, err := fmt.Fprintf(w, "admin %d %s is %s (%d sessions terminated)\n", change.User.ID, change.User.Email, state, change.Terminated)
	return err
}

func readPassword(in io.Reader, fromStdin bool) (string, error) {
	if !fromStdin {
		return "", errors.New("password must be supplied on stdin")
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func buildAdmin(opts *createAdminOptions, password string, hasher *security.Hasher) (*domain.AdminUser, error) {
	email := repository.NormalizeEmail(opts.email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email %q", opts.email)
	}
	role, ok := domain.ParseRole(opts.role)
	if !ok {
		return nil, fmt.Errorf("unknown role %q", opts.role)
	}
	if len(password) < 12 {
		return nil, errors.New("password must be at least 12 characters")
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	return &domain.AdminUser{Email: email, Name: strings.TrimSpace(opts.name), PasswordHash: hash, Role: role, Active: true}, nil
}
