package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/authgate/internal/domain"
	"github.com/utafrali/authgate/pkg/database"
	apperrors "github.com/utafrali/authgate/pkg/errors"
)

const (
	constraintUserTokenHash = "refresh_tokens_user_id_token_hash_key"

	queryInsertRefreshToken = `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expired_at, used_attempts, created_at, updated_at, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false)`

	queryListRefreshTokens = `
		SELECT id, user_id, token_hash, expired_at, used_attempts, created_at, updated_at, is_deleted
		FROM refresh_tokens
		WHERE user_id = $1 AND is_deleted = false
		ORDER BY created_at DESC`

	queryLockRefreshTokens = queryListRefreshTokens + `
		FOR UPDATE`

	queryExpireRefreshToken = `
		UPDATE refresh_tokens
		SET expired_at = $1, updated_at = $1
		WHERE id = $2 AND is_deleted = false`

	queryExpireAllRefreshTokens = `
		UPDATE refresh_tokens
		SET expired_at = $1, updated_at = $1
		WHERE user_id = $2 AND is_deleted = false AND expired_at > $1`

	queryEndRefreshToken = `
		UPDATE refresh_tokens
		SET expired_at = $1, updated_at = $1
		WHERE id = $2 AND is_deleted = false AND expired_at > updated_at`

	queryBumpUsedAttempts = `
		UPDATE refresh_tokens
		SET used_attempts = used_attempts + 1, updated_at = GREATEST(updated_at, $1)
		WHERE id = $2`

	queryPurgeRefreshTokens = `
		DELETE FROM refresh_tokens
		WHERE created_at < $1`
)

// RefreshTokenRepository implements repository.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	db database.DBTX
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(db database.DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create inserts a refresh token record.
func (r *RefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) (err error) {
	ctx, end := database.TraceQuery(ctx, "refresh_tokens.Create", queryInsertRefreshToken)
	defer func() { err = end(err) }()

	return insertRefreshToken(ctx, r.db, t)
}

// ListByUserID returns the user's non-deleted records, newest first.
func (r *RefreshTokenRepository) ListByUserID(ctx context.Context, userID string) (tokens []domain.RefreshToken, err error) {
	ctx, end := database.TraceQuery(ctx, "refresh_tokens.ListByUserID", queryListRefreshTokens)
	defer func() { err = end(err) }()

	rows, err := r.db.Query(ctx, queryListRefreshTokens, userID)
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	return scanRefreshTokens(rows)
}

// Expire forces the record's expiry to at.
func (r *RefreshTokenRepository) Expire(ctx context.Context, id string, at time.Time) (err error) {
	ctx, end := database.TraceQuery(ctx, "refresh_tokens.Expire", queryExpireRefreshToken)
	defer func() { err = end(err) }()

	ct, err := r.db.Exec(ctx, queryExpireRefreshToken, at, id)
	if err != nil {
		return fmt.Errorf("expire refresh token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("refresh token", id)
	}
	return nil
}

// ExpireAllByUserID expires every active record of the user.
func (r *RefreshTokenRepository) ExpireAllByUserID(ctx context.Context, userID string, at time.Time) (n int64, err error) {
	ctx, end := database.TraceQuery(ctx, "refresh_tokens.ExpireAllByUserID", queryExpireAllRefreshTokens)
	defer func() { err = end(err) }()

	ct, err := r.db.Exec(ctx, queryExpireAllRefreshTokens, at, userID)
	if err != nil {
		return 0, fmt.Errorf("expire user refresh tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

// Rotate replaces the matching record with next inside one transaction
// holding row locks on all of the user's records. Whether the match was
// already rotated is read from the row itself (domain.RefreshToken.IsEnded),
// never by comparing its expiry with now.
func (r *RefreshTokenRepository) Rotate(
	ctx context.Context, userID string, match func(hash string) bool, next *domain.RefreshToken, now time.Time,
) (matched *domain.RefreshToken, err error) {
	ctx, end := database.TraceQuery(ctx, "refresh_tokens.Rotate", queryLockRefreshTokens)
	defer func() { err = end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin rotate refresh token: %w", err)
	}
	defer database.Rollback(ctx, tx)

	rows, err := tx.Query(ctx, queryLockRefreshTokens, userID)
	if err != nil {
		return nil, fmt.Errorf("lock refresh tokens: %w", err)
	}
	tokens, err := scanRefreshTokens(rows)
	if err != nil {
		return nil, err
	}

	for i := range tokens {
		if match(tokens[i].TokenHash) {
			matched = &tokens[i]
			break
		}
	}
	if matched == nil {
		return nil, apperrors.NotFoundMessage("No refresh tokens found.")
	}

	if !matched.IsActive(now) {
		return matched, recordReuse(ctx, tx, matched, now)
	}

	ct, err := tx.Exec(ctx, queryEndRefreshToken, now, matched.ID)
	if err != nil {
		return nil, fmt.Errorf("expire rotated refresh token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return matched, recordReuse(ctx, tx, matched, now)
	}
	if err := insertRefreshToken(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rotate refresh token: %w", err)
	}

	matched.ExpiredAt = now
	matched.UpdatedAt = now
	return matched, nil
}

// recordReuse bumps the matched record's used_attempts, commits, and returns
// the reuse error.
func recordReuse(ctx context.Context, tx pgx.Tx, matched *domain.RefreshToken, now time.Time) error {
	if _, err := tx.Exec(ctx, queryBumpUsedAttempts, now, matched.ID); err != nil {
		return fmt.Errorf("record refresh token reuse: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit refresh token reuse: %w", err)
	}
	matched.UsedAttempts++
	if now.After(matched.UpdatedAt) {
		matched.UpdatedAt = now
	}
	return apperrors.New(apperrors.KindUnauthorized, "Invalid refresh token.", domain.ErrRefreshTokenReused)
}

// PurgeCreatedBefore hard-deletes records created before cutoff.
func (r *RefreshTokenRepository) PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	ctx, end := database.TraceQuery(ctx, "refresh_tokens.PurgeCreatedBefore", queryPurgeRefreshTokens)
	defer func() { err = end(err) }()

	ct, err := r.db.Exec(ctx, queryPurgeRefreshTokens, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRefreshToken(ctx context.Context, db execer, t *domain.RefreshToken) error {
	_, err := db.Exec(ctx, queryInsertRefreshToken,
		t.ID,
		t.UserID,
		t.TokenHash,
		t.ExpiredAt,
		t.UsedAttempts,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err, constraintUserTokenHash) {
			return apperrors.Conflict("refresh token already exists")
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func scanRefreshTokens(rows pgx.Rows) ([]domain.RefreshToken, error) {
	defer rows.Close()

	var tokens []domain.RefreshToken
	for rows.Next() {
		var t domain.RefreshToken
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.TokenHash,
			&t.ExpiredAt,
			&t.UsedAttempts,
			&t.CreatedAt,
			&t.UpdatedAt,
			&t.IsDeleted,
		); err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}
	return tokens, nil
}
