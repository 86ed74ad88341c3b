package service

import (
	"context"

	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
)

type LoginServiceInterface interface {
	Start(ctx context.Context, in LoginStartInput) (*LoginStartResult, error)
	Verify(ctx context.Context, in LoginVerifyInput) (*LoginVerifyResult, error)
	Resend(ctx context.Context, in ResendInput) error
}

type SessionServiceInterface interface {
	VerifySession(ctx context.Context, accessToken string) (*domain.SessionRecord, error)
	RefreshSession(ctx context.Context, refreshToken string) (*domain.SessionRecord, *RefreshResult, error)
	GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error)
	ListSessionViews(ctx context.Context, ownerID uint, currentSessionID string) ([]SessionView, error)
	InvalidateSession(ctx context.Context, sessionID string) error
	InvalidateOtherSessions(ctx context.Context, ownerID uint, keepSessionID string) (int, error)
	InvalidateAllSessions(ctx context.Context, ownerID uint) (int, error)
	NeedsRefresh(token string) bool
	Logout(ctx context.Context, accessToken, refreshToken string) error
}

var (
	_ LoginServiceInterface   = (*LoginService)(nil)
	_ SessionServiceInterface = (*SessionService)(nil)
)
