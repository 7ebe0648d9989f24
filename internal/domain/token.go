package domain

import (
	"time"

	"github.com/google/uuid"
)

// TokenState is the lifecycle state of a refresh token.
//
//	active ──validate──▶ consumed
//	   │  └──revoke───▶ revoked
//	   └────time──────▶ expired
//
// consumed, revoked and expired are terminal.
type TokenState int

const (
	TokenActive TokenState = iota
	TokenConsumed
	TokenRevoked
	TokenExpired
)

func (s TokenState) String() string {
	switch s {
	case TokenActive:
		return "active"
	case TokenConsumed:
		return "consumed"
	case TokenRevoked:
		return "revoked"
	case TokenExpired:
		return "expired"
	default:
		return "unknown"
	}
}

const (
	RevokeReasonRotated = "rotated"
	RevokeReasonLogout  = "logout"
	RevokeReasonRevoked = "revoked"
)

var ErrTokenNotActive = NewError(KindUnauthorized, "refresh token is not active")

// RefreshToken is a persisted, single-use refresh credential.
type RefreshToken struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	UserID        uuid.UUID  `json:"user_id" db:"user_id"`
	Token         string     `json:"-" db:"token"`
	ExpiresAt     time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	Revoked       bool       `json:"revoked" db:"revoked"`
	RevokedReason string     `json:"revoked_reason,omitempty" db:"revoked_reason"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// State derives the token's lifecycle state at now.
// Expiry is checked lazily here; nothing sweeps expired rows.
func (t *RefreshToken) State(now time.Time) TokenState {
	if t.Revoked {
		if t.RevokedReason == RevokeReasonRotated {
			return TokenConsumed
		}
		return TokenRevoked
	}
	if !now.Before(t.ExpiresAt) {
		return TokenExpired
	}
	return TokenActive
}

// Consume moves an active token to consumed.
func (t *RefreshToken) Consume(now time.Time) error {
	return t.transition(now, RevokeReasonRotated)
}

// Revoke moves an active token to revoked.
func (t *RefreshToken) Revoke(now time.Time, reason string) error {
	if reason == "" || reason == RevokeReasonRotated {
		reason = RevokeReasonRevoked
	}
	return t.transition(now, reason)
}

func (t *RefreshToken) transition(now time.Time, reason string) error {
	if t.State(now) != TokenActive {
		return ErrTokenNotActive
	}
	t.Revoked = true
	t.RevokedReason = reason
	t.RevokedAt = &now
	return nil
}

// TokenPair is what login and refresh hand back to the client.
// ExpiresAt is the access token's expiry.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}
