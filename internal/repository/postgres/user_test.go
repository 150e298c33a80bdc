package postgres

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authgate/internal/domain"
	apperrors "github.com/utafrali/authgate/pkg/errors"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func sampleUser() *domain.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.User{
		ID:        "8f14e45f-ceea-467f-a0b6-4e5f1c2d3a4b",
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// userColumns returns the column names scanned by scanUser.
func userColumns() []string {
	return []string{"id", "email", "first_name", "last_name", "created_at", "updated_at", "is_deleted"}
}

func userRow(u *domain.User) *pgxmock.Rows {
	return pgxmock.NewRows(userColumns()).AddRow(
		u.ID, u.Email, u.FirstName, u.LastName, u.CreatedAt, u.UpdatedAt, u.IsDeleted,
	)
}

func providerRows(pairs ...string) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"provider", "external_id"})
	for i := 0; i+1 < len(pairs); i += 2 {
		rows.AddRow(pairs[i], pairs[i+1])
	}
	return rows
}

// ---------------------------------------------------------------------------
// CreateWithProvider
// ---------------------------------------------------------------------------

func TestUserRepository_CreateWithProvider_Success(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)
	u := sampleUser()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(u.ID, u.Email, u.FirstName, u.LastName, u.CreatedAt, u.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO user_providers").
		WithArgs(u.ID, domain.ProviderGoogle, "google-sub-1", u.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.CreateWithProvider(context.Background(), u, domain.ProviderGoogle, "google-sub-1")
	require.NoError(t, err)
	assert.Equal(t, "google-sub-1", u.Providers[domain.ProviderGoogle])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateWithProvider_DuplicateIdentity(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)
	u := sampleUser()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO user_providers").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "user_providers_pkey"})
	mock.ExpectRollback()

	err := repo.CreateWithProvider(context.Background(), u, domain.ProviderGoogle, "google-sub-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateWithProvider_InsertUserFails(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.CreateWithProvider(context.Background(), sampleUser(), domain.ProviderGoogle, "g")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert user")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_CreateWithProvider_BeginFails(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := repo.CreateWithProvider(context.Background(), sampleUser(), domain.ProviderGoogle, "g")
	assert.ErrorContains(t, err, "begin create user")
}

// ---------------------------------------------------------------------------
// GetByID / GetByProvider / Exists
// ---------------------------------------------------------------------------

func TestUserRepository_GetByID_Success(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)
	u := sampleUser()

	mock.ExpectQuery("SELECT id, email, first_name").WithArgs(u.ID).WillReturnRows(userRow(u))
	mock.ExpectQuery("SELECT provider, external_id").WithArgs(u.ID).
		WillReturnRows(providerRows(domain.ProviderGoogle, "google-sub-1"))

	got, err := repo.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, u.FirstName, got.FirstName)
	assert.Equal(t, map[string]string{domain.ProviderGoogle: "google-sub-1"}, got.Providers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery("SELECT id, email, first_name").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(context.Background(), "missing")
	assert.Nil(t, got)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUserRepository_GetByID_StoreTimeout(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery("SELECT id, email, first_name").WithArgs("u1").WillReturnError(context.DeadlineExceeded)

	got, err := repo.GetByID(context.Background(), "u1")
	assert.Nil(t, got)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnavailable))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatus(err))
}

func TestUserRepository_GetByProvider_ConnectionLost(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery("FROM users u").WithArgs(domain.ProviderGoogle, "google-sub-1").
		WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})

	_, err := repo.GetByProvider(context.Background(), domain.ProviderGoogle, "google-sub-1")
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnavailable))
}

func TestUserRepository_GetByProvider_Success(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)
	u := sampleUser()

	mock.ExpectQuery("FROM users u").WithArgs(domain.ProviderGoogle, "google-sub-1").WillReturnRows(userRow(u))
	mock.ExpectQuery("SELECT provider, external_id").WithArgs(u.ID).
		WillReturnRows(providerRows(domain.ProviderGoogle, "google-sub-1"))

	got, err := repo.GetByProvider(context.Background(), domain.ProviderGoogle, "google-sub-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByProvider_DBError(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery("FROM users u").WillReturnError(errors.New("timeout"))

	_, err := repo.GetByProvider(context.Background(), domain.ProviderGoogle, "x")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInternal))
	assert.Contains(t, err.Error(), "scan user")
}

func TestUserRepository_Exists(t *testing.T) {
	mock := newMockPool(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery("SELECT EXISTS").WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("u2").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.Exists(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(context.Background(), "u2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// ActivityRepository
// ---------------------------------------------------------------------------

func TestActivityRepository_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewActivityRepository(mock)
	now := time.Now().UTC()

	userID := "u1"
	mock.ExpectExec("INSERT INTO user_activities").
		WithArgs("a1", &userID, "LOGIN", (*string)(nil), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Create(context.Background(), &domain.UserActivity{
		ID: "a1", UserID: "u1", Activity: domain.ActivityLogin, CreatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivityRepository_Create_Error(t *testing.T) {
	mock := newMockPool(t)
	repo := NewActivityRepository(mock)

	mock.ExpectExec("INSERT INTO user_activities").WillReturnError(errors.New("disk full"))

	err := repo.Create(context.Background(), &domain.UserActivity{ID: "a1", Activity: domain.ActivityLockedOut})
	assert.ErrorContains(t, err, "insert user activity")
}
