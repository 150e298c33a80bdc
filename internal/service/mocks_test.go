package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authgate/internal/auth"
	"github.com/utafrali/authgate/internal/domain"
	"github.com/utafrali/authgate/internal/registry"
	apperrors "github.com/utafrali/authgate/pkg/errors"
)

// --- Mock User Repository ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) CreateWithProvider(ctx context.Context, user *domain.User, provider, externalID string) error {
	args := m.Called(ctx, user, provider, externalID)
	return args.Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByProvider(ctx context.Context, provider, externalID string) (*domain.User, error) {
	args := m.Called(ctx, provider, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) Exists(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// --- Mock Activity Repository ---

type mockActivityRepository struct {
	mock.Mock
}

func (m *mockActivityRepository) Create(ctx context.Context, activity *domain.UserActivity) error {
	args := m.Called(ctx, activity)
	return args.Error(0)
}

// activities returns the activity types passed to Create, in call order.
func (m *mockActivityRepository) activities() []domain.Activity {
	var out []domain.Activity
	for _, c := range m.Calls {
		if c.Method == "Create" {
			out = append(out, c.Arguments.Get(1).(*domain.UserActivity).Activity)
		}
	}
	return out
}

// --- Mock Activity Publisher ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishActivity(ctx context.Context, activity *domain.UserActivity, user *domain.User) error {
	args := m.Called(ctx, activity, user)
	return args.Error(0)
}

// --- Mock Login Attempt Store ---

type mockLoginAttemptStore struct {
	mock.Mock
}

func (m *mockLoginAttemptStore) Failures(ctx context.Context, key string) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockLoginAttemptStore) RecordFailure(ctx context.Context, key string, window time.Duration) (int64, error) {
	args := m.Called(ctx, key, window)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockLoginAttemptStore) Reset(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// --- Mock Identity Verifier ---

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(ctx context.Context, credential string) (*domain.IdentityClaim, error) {
	args := m.Called(ctx, credential)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IdentityClaim), args.Error(1)
}

// --- In-memory Refresh Token Repository ---

// memRefreshTokens is a RefreshTokenRepository kept in memory. Rotate holds
// the mutex for its whole body, like the row lock of the SQL version.
type memRefreshTokens struct {
	mu      sync.Mutex
	records map[string]domain.RefreshToken
}

func newMemRefreshTokens() *memRefreshTokens {
	return &memRefreshTokens{records: make(map[string]domain.RefreshToken)}
}

func (r *memRefreshTokens) Create(_ context.Context, t *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[t.ID] = *t
	return nil
}

func (r *memRefreshTokens) ListByUserID(_ context.Context, userID string) ([]domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(userID), nil
}

func (r *memRefreshTokens) listLocked(userID string) []domain.RefreshToken {
	var out []domain.RefreshToken
	for _, t := range r.records {
		if t.UserID == userID && !t.IsDeleted {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memRefreshTokens) Expire(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.records[id]
	if !ok {
		return apperrors.NotFound("refresh token", id)
	}
	t.ExpiredAt, t.UpdatedAt = at, at
	r.records[id] = t
	return nil
}

func (r *memRefreshTokens) ExpireAllByUserID(_ context.Context, userID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.records {
		if t.UserID == userID && t.ExpiredAt.After(at) {
			t.ExpiredAt, t.UpdatedAt = at, at
			r.records[id] = t
			n++
		}
	}
	return n, nil
}

func (r *memRefreshTokens) Rotate(_ context.Context, userID string, match func(string) bool, next *domain.RefreshToken, now time.Time) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.listLocked(userID) {
		if !match(t.TokenHash) {
			continue
		}
		if !t.IsActive(now) {
			t.UsedAttempts++
			r.records[t.ID] = t
			return &t, apperrors.New(apperrors.KindUnauthorized, "Invalid refresh token.", domain.ErrRefreshTokenReused)
		}
		t.ExpiredAt, t.UpdatedAt = now, now
		r.records[t.ID] = t
		r.records[next.ID] = *next
		return &t, nil
	}
	return nil, apperrors.NotFoundMessage("No refresh tokens found.")
}

func (r *memRefreshTokens) PurgeCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.records {
		if t.CreatedAt.Before(cutoff) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

func (r *memRefreshTokens) get(id string) domain.RefreshToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}

func (r *memRefreshTokens) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// --- Test Helpers ---

const (
	testIssuer   = "https://auth.example.com"
	testAudience = "example-api"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.Options{
		Clients: map[string]string{
			"web":    "web-secret-0123456789abcdef0123456789",
			"mobile": "mobile-secret-0123456789abcdef012345",
		},
		Issuer:          testIssuer,
		Audiences:       []string{testAudience},
		VerifiedDomains: []string{"example.com"},
	})
	require.NoError(t, err)
	return reg
}

func sampleUser() *domain.User {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.User{
		ID:        "user-1",
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Providers: map[string]string{domain.ProviderGoogle: "google-sub-1"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func sampleClaim() *domain.IdentityClaim {
	return &domain.IdentityClaim{
		Subject:       "google-sub-1",
		Email:         "ada@example.com",
		EmailVerified: true,
		HostedDomain:  "example.com",
		GivenName:     "Ada",
		FamilyName:    "Lovelace",
	}
}

type tokenFixture struct {
	users      *mockUserRepository
	activities *mockActivityRepository
	refresh    *memRefreshTokens
	registry   *registry.Registry
	jwt        *auth.JWTManager
	userSvc    *UserService
	store      *RefreshTokenStore
	svc        *TokenService
}

// newTokenFixture wires a TokenService over mocks that know sampleUser.
func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()
	f := &tokenFixture{
		users:      &mockUserRepository{},
		activities: &mockActivityRepository{},
		refresh:    newMemRefreshTokens(),
		registry:   newTestRegistry(t),
	}
	user := sampleUser()
	f.users.On("GetByID", mock.Anything, user.ID).Return(user, nil).Maybe()
	f.users.On("GetByID", mock.Anything, mock.Anything).Return(nil, apperrors.NotFoundMessage("User not found.")).Maybe()
	f.users.On("Exists", mock.Anything, user.ID).Return(true, nil).Maybe()
	f.users.On("Exists", mock.Anything, mock.Anything).Return(false, nil).Maybe()
	f.activities.On("Create", mock.Anything, mock.Anything).Return(nil).Maybe()

	f.jwt = auth.NewJWTManager(f.registry, 30*time.Minute, 240*time.Hour)
	f.userSvc = NewUserService(f.users, f.activities, nil, newTestLogger())
	f.store = NewRefreshTokenStore(f.refresh)
	f.svc = NewTokenService(f.jwt, f.userSvc, f.store, newTestLogger())
	return f
}
