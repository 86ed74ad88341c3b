package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
	"github.com/sandeepkv93/icc-admin-auth/internal/repository"
)

func TestDeactivateTerminatesSessionsAndPendingLogin(t *testing.T) {
	ctx := context.Background()
	users := newUserRepoForTest(t)
	sessions, _, _ := newSessionServiceForTest(t, 5)
	accounts := NewAccountService(users, sessions, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	user := &domain.AdminUser{Email: "leaving@icc.test", Name: "Leaving", PasswordHash: "x", Role: domain.RoleEditor, Active: true}
	if err := users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := sessions.CreateSession(ctx, user, testRequest, SessionOptions{}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	pending, err := sessions.CreateSession(ctx, user, testRequest, SessionOptions{RequireTwoFactor: true})
	if err != nil {
		t.Fatalf("create pending session: %v", err)
	}
	expires := time.Now().Add(time.Minute)
	user.OTPCode, user.OTPExpiresAt, user.PendingSessionID = "123456", &expires, pending.Record.SessionID
	if err := users.Update(ctx, user); err != nil {
		t.Fatalf("store otp: %v", err)
	}

	change, err := accounts.SetActive(ctx, 0, user.ID, false)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if change.Terminated != 2 || change.User.Active {
		t.Fatalf("unexpected change %+v", change)
	}
	left, err := sessions.GetAdminSessions(ctx, user.ID)
	if err != nil || len(left) != 0 {
		t.Fatalf("expected no sessions, got %d (%v)", len(left), err)
	}
	stored, err := users.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Active || stored.OTPCode != "" || stored.PendingSessionID != "" {
		t.Fatalf("stored account not deactivated cleanly: %+v", stored)
	}

	again, err := accounts.SetActive(ctx, 0, user.ID, false)
	if err != nil || again.Terminated != 0 {
		t.Fatalf("repeat deactivation should be a no-op: %+v (%v)", again, err)
	}
}

func TestSetActiveErrors(t *testing.T) {
	ctx := context.Background()
	users := newUserRepoForTest(t)
	sessions, _, _ := newSessionServiceForTest(t, 5)
	accounts := NewAccountService(users, sessions, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	self := &domain.AdminUser{Email: "self@icc.test", Name: "Self", PasswordHash: "x", Role: domain.RoleSuperAdmin, Active: true}
	if err := users.Create(ctx, self); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := accounts.SetActive(ctx, self.ID, self.ID, false); !errors.Is(err, ErrSelfDeactivation) {
		t.Fatalf("expected self deactivation error, got %v", err)
	}
	if _, err := accounts.SetActive(ctx, self.ID, self.ID, true); err != nil {
		t.Fatalf("activating an active account should succeed, got %v", err)
	}
	if _, err := accounts.SetActive(ctx, self.ID, 9999, false); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
