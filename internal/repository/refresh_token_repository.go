package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/domain"

	"github.com/google/uuid"
)

var ErrRefreshTokenNotFound = domain.NewError(domain.KindUnauthorized, "refresh token not found")

// RefreshTokenRepository defines the interface for refresh token data access
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *domain.RefreshToken) error
	// FindByToken returns the record in whatever state it is in.
	FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error)
	// Rotate consumes the active token consumedID and stores next in one
	// transaction. It fails with domain.ErrTokenNotActive when another caller
	// got there first, the token was revoked, or it expired; in that case
	// nothing is written.
	Rotate(ctx context.Context, consumedID uuid.UUID, next *domain.RefreshToken, now time.Time) error
	// Revoke marks one active token revoked; revoking an inactive or unknown
	// token reports false.
	Revoke(ctx context.Context, token, reason string, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string, now time.Time) (int64, error)
}

type refreshTokenRepository struct {
	db *sql.DB
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository
func NewRefreshTokenRepository(db *sql.DB) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

const insertRefreshToken = `
	INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_reason, revoked_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// Create inserts a new refresh token into the database using parameterized queries
func (r *refreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	return insertToken(ctx, r.db, token)
}

func insertToken(ctx context.Context, db execer, token *domain.RefreshToken) error {
	_, err := db.ExecContext(
		ctx,
		insertRefreshToken,
		token.ID,
		token.UserID,
		token.Token,
		token.ExpiresAt,
		token.CreatedAt,
		token.Revoked,
		token.RevokedReason,
		token.RevokedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}

	return nil
}

// FindByToken retrieves a refresh token by its token string using parameterized queries
func (r *refreshTokenRepository) FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	query := `
		SELECT id, user_id, token, expires_at, created_at, revoked, revoked_reason, revoked_at
		FROM refresh_tokens
		WHERE token = $1
	`

	refreshToken := &domain.RefreshToken{}
	var revokedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&refreshToken.ID,
		&refreshToken.UserID,
		&refreshToken.Token,
		&refreshToken.ExpiresAt,
		&refreshToken.CreatedAt,
		&refreshToken.Revoked,
		&refreshToken.RevokedReason,
		&revokedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	if revokedAt.Valid {
		refreshToken.RevokedAt = &revokedAt.Time
	}

	return refreshToken, nil
}

// Rotate is a compare-and-set on the active state followed by the insert of
// the successor, so two concurrent rotations of the same token cannot both
// succeed and a failed insert leaves the old token usable.
func (r *refreshTokenRepository) Rotate(ctx context.Context, consumedID uuid.UUID, next *domain.RefreshToken, now time.Time) error {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_reason = $2, revoked_at = $3
		WHERE id = $1 AND revoked = FALSE AND expires_at > $3
	`

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, consumedID, domain.RevokeReasonRotated, now)
		if err != nil {
			return fmt.Errorf("failed to consume refresh token: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rowsAffected == 0 {
			return domain.ErrTokenNotActive
		}

		return insertToken(ctx, tx, next)
	})
}

// Revoke marks a refresh token as revoked using parameterized queries
func (r *refreshTokenRepository) Revoke(ctx context.Context, token, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_reason = $2, revoked_at = $3
		WHERE token = $1 AND revoked = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, token, reason, now)
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// RevokeAllForUser revokes every still-active token of userID.
func (r *refreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string, now time.Time) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_reason = $2, revoked_at = $3
		WHERE user_id = $1 AND revoked = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, userID, reason, now)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens for user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
