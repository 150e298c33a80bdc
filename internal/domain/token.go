package domain

import (
	"errors"
	"time"
)

// RefreshToken is the persisted record behind an issued refresh token. Only
// a bcrypt hash of the token key is stored.
type RefreshToken struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	TokenHash    string    `json:"-"`
	ExpiredAt    time.Time `json:"expiredAt"`
	UsedAttempts int       `json:"usedAttempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	IsDeleted    bool      `json:"-"`
}

// IsActive reports whether the token may still be exchanged at now.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsDeleted && !t.IsEnded() && now.Before(t.ExpiredAt)
}

// IsEnded reports whether the record was expired by a rotation or
// revocation. Both write the same instant to ExpiredAt and UpdatedAt;
// issuance leaves ExpiredAt after UpdatedAt.
func (t *RefreshToken) IsEnded() bool {
	return !t.ExpiredAt.After(t.UpdatedAt)
}

// TokenPair holds an access and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Introspection describes an access token to a registered client. Inactive
// tokens carry no other field.
type Introspection struct {
	Active   bool   `json:"active"`
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

// ErrRefreshTokenReused marks a presented refresh token whose record was
// already rotated, revoked or expired.
var ErrRefreshTokenReused = errors.New("refresh token reused")
