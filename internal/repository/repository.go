package repository

import (
	"context"
	"time"

	"github.com/utafrali/authgate/internal/domain"
)

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// CreateWithProvider inserts the user and its provider mapping in one
	// transaction. A concurrent insert of the same (provider, externalID)
	// fails with a Conflict error.
	CreateWithProvider(ctx context.Context, user *domain.User, provider, externalID string) error

	// GetByID retrieves a non-deleted user by id.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByProvider retrieves the user mapped to an external identity.
	GetByProvider(ctx context.Context, provider, externalID string) (*domain.User, error)

	// Exists reports whether a non-deleted user with id exists.
	Exists(ctx context.Context, id string) (bool, error)
}

// ActivityRepository persists user activity audit rows.
type ActivityRepository interface {
	Create(ctx context.Context, activity *domain.UserActivity) error
}

// RefreshTokenRepository defines the interface for refresh token persistence operations.
type RefreshTokenRepository interface {
	// Create stores a new refresh token record.
	Create(ctx context.Context, token *domain.RefreshToken) error

	// ListByUserID returns every non-deleted record of the user.
	ListByUserID(ctx context.Context, userID string) ([]domain.RefreshToken, error)

	// Expire sets the record's expiry to at.
	Expire(ctx context.Context, id string, at time.Time) error

	// ExpireAllByUserID expires every still-active record of the user and
	// returns how many were changed.
	ExpireAllByUserID(ctx context.Context, userID string, at time.Time) (int64, error)

	// Rotate atomically replaces the user's record whose hash satisfies match
	// with next. The user's rows are locked for the duration, so of two
	// concurrent rotations of the same record exactly one succeeds. A matched
	// record that is no longer active has its used_attempts incremented and
	// the call fails with domain.ErrRefreshTokenReused. The matched record is
	// returned in both cases.
	Rotate(ctx context.Context, userID string, match func(hash string) bool, next *domain.RefreshToken, now time.Time) (*domain.RefreshToken, error)

	// PurgeCreatedBefore deletes records created before cutoff.
	PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LoginAttemptStore counts failed logins per key within a sliding window.
type LoginAttemptStore interface {
	Failures(ctx context.Context, key string) (int64, error)
	RecordFailure(ctx context.Context, key string, window time.Duration) (int64, error)
	Reset(ctx context.Context, key string) error
}
