package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sandeepkv93/icc-admin-auth/internal/audit"
	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/repository"
)

var ErrSelfDeactivation = errors.New("an admin cannot deactivate their own account")

type AccountChange struct {
	User       *domain.AdminUser
	Terminated int
}

// AccountService owns the active flag of admin accounts.
type AccountService struct {
	users    repository.AdminUserRepository
	sessions SessionServiceInterface
	audit    audit.Sink
	logger   *slog.Logger
}

func NewAccountService(users repository.AdminUserRepository, sessions SessionServiceInterface, sink audit.Sink, logger *slog.Logger) *AccountService {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &AccountService{users: users, sessions: sessions, audit: sink, logger: logger}
}

// SetActive flips the active flag of userID. actorID is the admin making the
// change, zero for operator tooling. Deactivation abandons any login in
// progress and terminates every session of the account, since requests on a
// live session are not checked against the user table.
func (s *AccountService) SetActive(ctx context.Context, actorID, userID uint, active bool) (*AccountChange, error) {
	if !active && actorID != 0 && actorID == userID {
		return nil, ErrSelfDeactivation
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &AccountChange{User: user}
	if user.Active == active {
		return out, nil
	}

	user.Active = active
	if !active {
		user.ClearOTP()
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}

	ev := audit.Event{Type: audit.EventAccountActivated, UserID: user.ID, Email: user.Email}
	if actorID != 0 {
		ev.Reason = "changed by user " + strconv.FormatUint(uint64(actorID), 10)
	}
	if !active {
		ev.Type = audit.EventAccountDeactivated
		n, err := s.sessions.InvalidateAllSessions(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("terminate sessions: %w", err)
		}
		out.Terminated = n
	}
	s.audit.Record(ctx, ev)
	s.logger.InfoContext(ctx, "admin account updated", "user_id", user.ID, "active", active, "sessions_terminated", out.Terminated)
	return out, nil
}
