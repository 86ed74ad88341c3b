package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sandeepkv93/icc-admin-auth/internal/domain"
)

const (
	// AccessTokenTTL is shared by the signed access token and its cookie.
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	DefaultIssuer   = "icc-admin"
	AccessAudience  = "icc-admin-access"
	RefreshAudience = "icc-admin-refresh"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrUnexpectedType   = errors.New("unexpected token type")
	ErrMissingSessionID = errors.New("token has no session id")
)

// Subject is the identity carried inside a token.
type Subject struct {
	UserID            uint
	Email             string
	Role              domain.Role
	Permissions       domain.Permissions
	SessionID         string
	TwoFactorVerified bool
}

type Claims struct {
	UserID            uint               `json:"userId"`
	Email             string             `json:"email"`
	Role              domain.Role        `json:"role"`
	Permissions       domain.Permissions `json:"permissions"`
	SessionID         string             `json:"sessionId"`
	TwoFactorVerified bool               `json:"twoFactorVerified"`
	TokenType         string             `json:"tokenType"`
	jwt.RegisteredClaims
}

func (c *Claims) Subject() Subject {
	return Subject{
		UserID:            c.UserID,
		Email:             c.Email,
		Role:              c.Role,
		Permissions:       c.Permissions,
		SessionID:         c.SessionID,
		TwoFactorVerified: c.TwoFactorVerified,
	}
}

// Expiry returns the exp claim, or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

type JWTManager struct {
	issuer        string
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

func NewJWTManager(issuer, accessSecret, refreshSecret string) *JWTManager {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &JWTManager{
		issuer:        issuer,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		now:           time.Now,
	}
}

// WithClock returns a copy of m that signs and validates against now.
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	cp := *m
	cp.now = now
	return &cp
}

func (m *JWTManager) Now() time.Time {
	return m.now()
}

func (m *JWTManager) SignAccessToken(sub Subject) (string, *Claims, error) {
	return m.sign(sub, TokenTypeAccess, AccessAudience, AccessTokenTTL, m.accessSecret)
}

func (m *JWTManager) SignRefreshToken(sub Subject) (string, *Claims, error) {
	return m.sign(sub, TokenTypeRefresh, RefreshAudience, RefreshTokenTTL, m.refreshSecret)
}

func (m *JWTManager) sign(sub Subject, tokenType, audience string, ttl time.Duration, secret []byte) (string, *Claims, error) {
	now := m.now()
	claims := &Claims{
		UserID:            sub.UserID,
		Email:             sub.Email,
		Role:              sub.Role,
		Permissions:       sub.Permissions,
		SessionID:         sub.SessionID,
		TwoFactorVerified: sub.TwoFactorVerified,
		TokenType:         tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatUint(uint64(sub.UserID), 10),
			Audience:  []string{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, claims, nil
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	return m.parse(raw, m.accessSecret, TokenTypeAccess, AccessAudience)
}

func (m *JWTManager) ParseRefreshToken(raw string) (*Claims, error) {
	return m.parse(raw, m.refreshSecret, TokenTypeRefresh, RefreshAudience)
}

func (m *JWTManager) parse(raw string, secret []byte, tokenType, audience string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedType, claims.TokenType)
	}
	return claims, nil
}

// ParseUnverified decodes claims without checking the signature. Only use the
// result for expiry bookkeeping, never for authorization.
func ParseUnverified(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
