package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/authgate/internal/domain"
	"github.com/utafrali/authgate/pkg/database"
	apperrors "github.com/utafrali/authgate/pkg/errors"
)

const (
	constraintProviderPK = "user_providers_pkey"

	queryInsertUser = `
		INSERT INTO users (id, email, first_name, last_name, created_at, updated_at, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, false)`

	queryInsertProvider = `
		INSERT INTO user_providers (user_id, provider, external_id, created_at)
		VALUES ($1, $2, $3, $4)`

	queryGetUserByID = `
		SELECT id, email, first_name, last_name, created_at, updated_at, is_deleted
		FROM users
		WHERE id = $1 AND is_deleted = false`

	queryGetUserByProvider = `
		SELECT u.id, u.email, u.first_name, u.last_name, u.created_at, u.updated_at, u.is_deleted
		FROM users u
		JOIN user_providers p ON p.user_id = u.id
		WHERE p.provider = $1 AND p.external_id = $2 AND u.is_deleted = false`

	queryListProviders = `
		SELECT provider, external_id
		FROM user_providers
		WHERE user_id = $1`

	queryUserExists = `
		SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND is_deleted = false)`
)

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// CreateWithProvider inserts the user and its provider row in one transaction.
func (r *UserRepository) CreateWithProvider(ctx context.Context, u *domain.User, provider, externalID string) (err error) {
	ctx, end := database.TraceQuery(ctx, "users.CreateWithProvider", queryInsertUser)
	defer func() { err = end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create user: %w", err)
	}
	defer database.Rollback(ctx, tx)

	if _, err := tx.Exec(ctx, queryInsertUser,
		u.ID, u.Email, u.FirstName, u.LastName, u.CreatedAt, u.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	if _, err := tx.Exec(ctx, queryInsertProvider, u.ID, provider, externalID, u.CreatedAt); err != nil {
		if database.IsUniqueViolation(err, constraintProviderPK) {
			return apperrors.AlreadyExists("user", provider+" id", externalID)
		}
		return fmt.Errorf("insert user provider: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if database.IsUniqueViolation(err, constraintProviderPK) {
			return apperrors.AlreadyExists("user", provider+" id", externalID)
		}
		return fmt.Errorf("commit create user: %w", err)
	}

	if u.Providers == nil {
		u.Providers = make(map[string]string, 1)
	}
	u.Providers[provider] = externalID
	return nil
}

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (u *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, "users.GetByID", queryGetUserByID)
	defer func() { err = end(err) }()

	return r.scanUser(ctx, queryGetUserByID, id)
}

// GetByProvider retrieves the user mapped to (provider, externalID).
func (r *UserRepository) GetByProvider(ctx context.Context, provider, externalID string) (u *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, "users.GetByProvider", queryGetUserByProvider)
	defer func() { err = end(err) }()

	return r.scanUser(ctx, queryGetUserByProvider, provider, externalID)
}

// Exists reports whether a non-deleted user exists.
func (r *UserRepository) Exists(ctx context.Context, id string) (exists bool, err error) {
	ctx, end := database.TraceQuery(ctx, "users.Exists", queryUserExists)
	defer func() { err = end(err) }()

	if err := r.db.QueryRow(ctx, queryUserExists, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

// scanUser executes a query expected to return a single user row and loads
// the user's provider mappings.
func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var u domain.User

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.IsDeleted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundMessage("User not found.")
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	providers, err := r.listProviders(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Providers = providers

	return &u, nil
}

func (r *UserRepository) listProviders(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := r.db.Query(ctx, queryListProviders, userID)
	if err != nil {
		return nil, fmt.Errorf("list user providers: %w", err)
	}
	defer rows.Close()

	providers := make(map[string]string)
	for rows.Next() {
		var provider, externalID string
		if err := rows.Scan(&provider, &externalID); err != nil {
			return nil, fmt.Errorf("scan user provider: %w", err)
		}
		providers[provider] = externalID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user providers: %w", err)
	}
	return providers, nil
}
