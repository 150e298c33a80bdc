package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/authgate/internal/auth"
	"github.com/utafrali/authgate/internal/domain"
	"github.com/utafrali/authgate/internal/repository"
	apperrors "github.com/utafrali/authgate/pkg/errors"
)

const msgInvalidRefreshToken = "Invalid refresh token."

// RefreshTokenStore keeps hashed refresh token keys per user. Lookups load
// the user's records and compare the raw key against each salted hash.
type RefreshTokenStore struct {
	repo repository.RefreshTokenRepository
	now  func() time.Time
}

// NewRefreshTokenStore creates a new refresh token store over repo.
func NewRefreshTokenStore(repo repository.RefreshTokenRepository) *RefreshTokenStore {
	return &RefreshTokenStore{repo: repo, now: time.Now}
}

// WithClock replaces the store's time source.
func (s *RefreshTokenStore) WithClock(now func() time.Time) *RefreshTokenStore {
	s.now = now
	return s
}

// NewRecord builds an unsaved record for hash.
func (s *RefreshTokenStore) NewRecord(userID, hash string, expiry time.Time) *domain.RefreshToken {
	now := s.now().UTC()
	return &domain.RefreshToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: hash,
		ExpiredAt: expiry.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Add persists a new record.
func (s *RefreshTokenStore) Add(ctx context.Context, userID string, expiry time.Time, hash string) (*domain.RefreshToken, error) {
	switch {
	case userID == "":
		return nil, apperrors.Argument("userId")
	case expiry.IsZero():
		return nil, apperrors.Argument("expiry")
	case hash == "":
		return nil, apperrors.Argument("hashedTokenIdentifier")
	}

	record := s.NewRecord(userID, hash, expiry)
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("add refresh token: %w", err)
	}
	return record, nil
}

// Get returns the user's record whose hash matches rawKey.
func (s *RefreshTokenStore) Get(ctx context.Context, userID, rawKey string) (*domain.RefreshToken, error) {
	if userID == "" {
		return nil, apperrors.Argument("userId")
	}
	if rawKey == "" {
		return nil, apperrors.Argument("tokenIdentifier")
	}

	records, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	for i := range records {
		if auth.CompareToken(records[i].TokenHash, rawKey) {
			return &records[i], nil
		}
	}
	return nil, apperrors.NotFoundMessage("No refresh tokens found.")
}

// Validate returns the matching record if it is still active.
func (s *RefreshTokenStore) Validate(ctx context.Context, userID, rawKey string) (*domain.RefreshToken, error) {
	record, err := s.Get(ctx, userID, rawKey)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return nil, apperrors.Unauthorized(msgInvalidRefreshToken)
		}
		return nil, err
	}
	if !record.IsActive(s.now()) {
		return record, apperrors.New(apperrors.KindUnauthorized, msgInvalidRefreshToken, domain.ErrRefreshTokenReused)
	}
	return record, nil
}

// Invalidate expires the matching record. The row is kept so a later replay
// is still recognised.
func (s *RefreshTokenStore) Invalidate(ctx context.Context, userID, rawKey string) error {
	record, err := s.Get(ctx, userID, rawKey)
	if err != nil {
		return err
	}
	if err := s.repo.Expire(ctx, record.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("invalidate refresh token: %w", err)
	}
	return nil
}

// InvalidateAll expires every active record of the user.
func (s *RefreshTokenStore) InvalidateAll(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, apperrors.Argument("userId")
	}
	n, err := s.repo.ExpireAllByUserID(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("invalidate refresh tokens: %w", err)
	}
	return n, nil
}

// Rotate swaps the record matching rawKey for next atomically. A match that
// is no longer active fails with domain.ErrRefreshTokenReused; no match
// fails Unauthorized.
func (s *RefreshTokenStore) Rotate(ctx context.Context, userID, rawKey string, next *domain.RefreshToken) (*domain.RefreshToken, error) {
	if userID == "" {
		return nil, apperrors.Argument("userId")
	}
	if rawKey == "" {
		return nil, apperrors.Argument("tokenIdentifier")
	}

	match := func(hash string) bool { return auth.CompareToken(hash, rawKey) }
	matched, err := s.repo.Rotate(ctx, userID, match, next, s.now().UTC())
	switch {
	case err == nil:
		return matched, nil
	case errors.Is(err, domain.ErrRefreshTokenReused):
		return matched, err
	case apperrors.IsKind(err, apperrors.KindNotFound):
		return nil, apperrors.Unauthorized(msgInvalidRefreshToken)
	default:
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
}

// Purge hard-deletes records created more than retention ago.
func (s *RefreshTokenStore) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.PurgeCreatedBefore(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return n, nil
}
