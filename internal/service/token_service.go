package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// refreshTokenBytes is the entropy of an opaque refresh token.
const refreshTokenBytes = 64

var (
	ErrInvalidToken        = domain.NewError(domain.KindUnauthorized, "invalid token")
	ErrInvalidRefreshToken = domain.NewError(domain.KindUnauthorized, "invalid or expired refresh token")
	ErrMissingRole         = errors.New("user has no role to put in the access token")
)

// Claims represents the JWT claims of an access token
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
	jwt.RegisteredClaims
}

// TokenConfig holds the signing key and lifetimes of issued tokens.
type TokenConfig struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenIssuer issues access/refresh token pairs and drives the refresh token
// lifecycle: active → consumed | revoked | expired.
type TokenIssuer interface {
	IssueTokenPair(ctx context.Context, user *domain.User) (*domain.TokenPair, error)
	ValidateAndRotate(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
}

type tokenIssuer struct {
	cfg    TokenConfig
	tokens repository.RefreshTokenRepository
	users  repository.UserRepository
	clock  Clock
	logger *zap.Logger
}

// NewTokenIssuer creates a new instance of TokenIssuer
func NewTokenIssuer(
	cfg TokenConfig,
	tokens repository.RefreshTokenRepository,
	users repository.UserRepository,
	clock Clock,
	logger *zap.Logger,
) TokenIssuer {
	return &tokenIssuer{
		cfg:    cfg,
		tokens: tokens,
		users:  users,
		clock:  clock,
		logger: logger.Named("tokens"),
	}
}

// IssueTokenPair signs an access token for user and persists a fresh refresh token.
func (s *tokenIssuer) IssueTokenPair(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	pair, refreshToken, err := s.newTokenPair(user, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Create(ctx, refreshToken); err != nil {
		s.logger.Error("Failed to store refresh token",
			zap.String("entity", "refresh_token"),
			zap.String("id", user.ID.String()),
			zap.String("operation", "issue"),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return pair, nil
}

// ValidateAndRotate consumes an active refresh token and issues a new pair.
// Not found, consumed, revoked and expired tokens all fail with
// ErrInvalidRefreshToken. The presented token stays active unless the
// successor is stored.
func (s *tokenIssuer) ValidateAndRotate(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	stored, err := s.tokens.FindByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	now := s.clock.Now()
	state := stored.State(now)
	if err := stored.Consume(now); err != nil {
		s.logger.Info("Rejected refresh token",
			zap.String("user_id", stored.UserID.String()),
			zap.Stringer("state", state),
		)
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	pair, next, err := s.newTokenPair(user, now)
	if err != nil {
		return nil, err
	}

	// The conditional update decides between concurrent rotations.
	if err := s.tokens.Rotate(ctx, stored.ID, next, now); err != nil {
		if errors.Is(err, domain.ErrTokenNotActive) {
			return nil, ErrInvalidRefreshToken
		}
		s.logger.Error("Failed to rotate refresh token",
			zap.String("entity", "refresh_token"),
			zap.String("id", stored.ID.String()),
			zap.String("operation", "rotate"),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	return pair, nil
}

// Revoke invalidates one refresh token. Unknown and already inactive tokens
// are ignored.
func (s *tokenIssuer) Revoke(ctx context.Context, refreshToken string) error {
	stored, err := s.tokens.FindByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil
		}
		return fmt.Errorf("failed to find refresh token: %w", err)
	}

	now := s.clock.Now()
	if errors.Is(stored.Revoke(now, domain.RevokeReasonLogout), domain.ErrTokenNotActive) {
		return nil
	}

	if _, err := s.tokens.Revoke(ctx, refreshToken, stored.RevokedReason, now); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every active refresh token of userID.
func (s *tokenIssuer) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := s.tokens.RevokeAllForUser(ctx, userID, domain.RevokeReasonRevoked, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}

	s.logger.Info("Revoked refresh tokens", zap.String("user_id", userID.String()), zap.Int64("count", count))
	return count, nil
}

// ValidateAccessToken validates a JWT access token and returns its claims
func (s *tokenIssuer) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (s *tokenIssuer) signAccessToken(user *domain.User, now time.Time) (string, time.Time, error) {
	if user.Role == "" {
		return "", time.Time{}, ErrMissingRole
	}

	expiresAt := now.Add(s.cfg.AccessTTL)
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// newTokenPair signs an access token and mints the refresh token record that
// backs the pair. Nothing is persisted.
func (s *tokenIssuer) newTokenPair(user *domain.User, now time.Time) (*domain.TokenPair, *domain.RefreshToken, error) {
	accessToken, expiresAt, err := s.signAccessToken(user, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	value, err := generateRefreshToken()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	refreshToken := &domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     value,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		CreatedAt: now,
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: value,
		ExpiresAt:    expiresAt,
	}, refreshToken, nil
}

func generateRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
