package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/icc-admin-auth/internal/kvstore"
	"github.com/sandeepkv93/icc-admin-auth/internal/security"
)

const (
	blacklistPrefix = "blacklist:"

	// RefreshRotationThreshold is the remaining refresh lifetime below which a
	// refresh also mints a new refresh token.
	RefreshRotationThreshold = 24 * time.Hour
)

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrTokenRevoked        = errors.New("token revoked")
)

// VerifyResult reports a token check without panicking or returning an error value.
type VerifyResult struct {
	Valid  bool
	Claims *security.Claims
	Err    error
}

type TokenPair struct {
	AccessToken      string    `json:"-"`
	RefreshToken     string    `json:"-"`
	SessionID        string    `json:"sessionId"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type RefreshResult struct {
	AccessToken  string
	AccessClaims *security.Claims
	// RefreshToken is empty unless the refresh token was rotated.
	RefreshToken  string
	RefreshClaims *security.Claims
	Rotated       bool
}

type TokenService struct {
	jwt   *security.JWTManager
	store kvstore.Store
}

func NewTokenService(jwt *security.JWTManager, store kvstore.Store) *TokenService {
	return &TokenService{jwt: jwt, store: store}
}

func (s *TokenService) now() time.Time { return s.jwt.Now() }

func (s *TokenService) GenerateAccessToken(sub security.Subject) (string, *security.Claims, error) {
	return s.jwt.SignAccessToken(sub)
}

func (s *TokenService) GenerateRefreshToken(sub security.Subject) (string, *security.Claims, error) {
	return s.jwt.SignRefreshToken(sub)
}

func (s *TokenService) VerifyAccessToken(ctx context.Context, raw string) VerifyResult {
	claims, err := s.jwt.ParseAccessToken(raw)
	return s.checkRevocation(ctx, claims, err)
}

func (s *TokenService) VerifyRefreshToken(ctx context.Context, raw string) VerifyResult {
	claims, err := s.jwt.ParseRefreshToken(raw)
	return s.checkRevocation(ctx, claims, err)
}

func (s *TokenService) checkRevocation(ctx context.Context, claims *security.Claims, err error) VerifyResult {
	if err != nil {
		return VerifyResult{Err: err}
	}
	revoked, err := s.IsJTIBlacklisted(ctx, claims.ID)
	if err != nil {
		return VerifyResult{Err: fmt.Errorf("check blacklist: %w", err)}
	}
	if revoked {
		return VerifyResult{Err: ErrTokenRevoked}
	}
	return VerifyResult{Valid: true, Claims: claims}
}

// CreateTokenPair signs an access and refresh token for sub. A session id is
// generated when sub has none.
func (s *TokenService) CreateTokenPair(_ context.Context, sub security.Subject) (*TokenPair, error) {
	if sub.SessionID == "" {
		sub.SessionID = uuid.NewString()
	}
	access, accessClaims, err := s.jwt.SignAccessToken(sub)
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := s.jwt.SignRefreshToken(sub)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		SessionID:        sub.SessionID,
		AccessExpiresAt:  accessClaims.Expiry(),
		RefreshExpiresAt: refreshClaims.Expiry(),
	}, nil
}

// RefreshAccessToken mints a new access token from a valid refresh token.
func (s *TokenService) RefreshAccessToken(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	res := s.VerifyRefreshToken(ctx, refreshToken)
	if !res.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefreshToken, res.Err)
	}
	return s.RefreshFor(ctx, res.Claims, res.Claims.Subject())
}

// RefreshFor issues a new access token for sub. When the verified refresh
// token has less than RefreshRotationThreshold left, a new refresh token is
// issued and the old jti is blacklisted.
func (s *TokenService) RefreshFor(ctx context.Context, refreshClaims *security.Claims, sub security.Subject) (*RefreshResult, error) {
	access, accessClaims, err := s.jwt.SignAccessToken(sub)
	if err != nil {
		return nil, err
	}
	out := &RefreshResult{AccessToken: access, AccessClaims: accessClaims}
	if refreshClaims.Expiry().Sub(s.now()) >= RefreshRotationThreshold {
		return out, nil
	}
	refresh, newClaims, err := s.jwt.SignRefreshToken(sub)
	if err != nil {
		return nil, err
	}
	if err := s.BlacklistJTI(ctx, refreshClaims.ID, refreshClaims.Expiry()); err != nil {
		return nil, err
	}
	out.RefreshToken = refresh
	out.RefreshClaims = newClaims
	out.Rotated = true
	return out, nil
}

// BlacklistJTI marks jti as revoked until exp. Writing the same jti twice is harmless.
func (s *TokenService) BlacklistJTI(ctx context.Context, jti string, exp time.Time) error {
	if jti == "" {
		return nil
	}
	ttl := time.Second
	if exp.IsZero() {
		ttl = security.RefreshTokenTTL
	} else if remaining := exp.Sub(s.now()); remaining > ttl {
		ttl = remaining
	}
	if err := s.store.Set(ctx, blacklistPrefix+jti, []byte("true"), ttl); err != nil {
		return fmt.Errorf("blacklist jti: %w", err)
	}
	return nil
}

func (s *TokenService) IsJTIBlacklisted(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	_, ok, err := s.store.Get(ctx, blacklistPrefix+jti)
	return ok, err
}

// RevokeToken blacklists the jti of raw without checking its signature, so
// expired or foreign-secret tokens can still be revoked by their holder.
func (s *TokenService) RevokeToken(ctx context.Context, raw string) (*security.Claims, error) {
	claims, err := security.ParseUnverified(raw)
	if err != nil {
		return nil, err
	}
	if claims.Expiry().IsZero() || claims.Expiry().After(s.now()) {
		if err := s.BlacklistJTI(ctx, claims.ID, claims.Expiry()); err != nil {
			return claims, err
		}
	}
	return claims, nil
}
