package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authgate/internal/domain"
	apperrors "github.com/utafrali/authgate/pkg/errors"
)

var testLockout = LockoutPolicy{MaxFailures: 3, Window: 15 * time.Minute}

type authFixture struct {
	*tokenFixture
	verifier *mockVerifier
	attempts *mockLoginAttemptStore
	svc      *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	tf := newTokenFixture(t)
	f := &authFixture{
		tokenFixture: tf,
		verifier:     &mockVerifier{},
		attempts:     &mockLoginAttemptStore{},
	}
	f.svc = NewAuthService(tf.registry, f.verifier, tf.userSvc, tf.svc, f.attempts, testLockout, newTestLogger())
	return f
}

func TestLoginWithGoogle_ExistingUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	f.attempts.On("Failures", mock.Anything, "10.0.0.1").Return(int64(1), nil)
	f.attempts.On("Reset", mock.Anything, "10.0.0.1").Return(nil)
	f.verifier.On("Verify", mock.Anything, "google-id-token").Return(sampleClaim(), nil)
	f.users.On("GetByProvider", mock.Anything, domain.ProviderGoogle, "google-sub-1").Return(sampleUser(), nil)

	pair, err := f.svc.LoginWithGoogle(ctx, LoginInput{ClientID: "web", Credential: "google-id-token", RemoteAddr: "10.0.0.1"})
	require.NoError(t, err)

	claims, err := f.tokenFixture.svc.ValidateAccessToken(ctx, pair.AccessToken, true, "web")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)

	refresh, err := f.tokenFixture.svc.ValidateRefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "web", refresh.ClientID)

	assert.Equal(t, []domain.Activity{domain.ActivityLogin}, f.activities.activities())
	f.attempts.AssertExpectations(t)
}

func TestLoginWithGoogle_SignUp(t *testing.T) {
	f := newAuthFixture(t)

	f.attempts.On("Failures", mock.Anything, mock.Anything).Return(int64(0), nil)
	f.attempts.On("Reset", mock.Anything, mock.Anything).Return(nil)
	f.verifier.On("Verify", mock.Anything, mock.Anything).Return(sampleClaim(), nil)
	f.users.On("GetByProvider", mock.Anything, mock.Anything, mock.Anything).Return(nil, apperrors.NotFoundMessage("User not found."))
	f.users.On("CreateWithProvider", mock.Anything, mock.Anything, domain.ProviderGoogle, "google-sub-1").Return(nil)

	pair, err := f.svc.LoginWithGoogle(context.Background(), LoginInput{ClientID: "mobile", Credential: "c", RemoteAddr: "10.0.0.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, []domain.Activity{domain.ActivitySignUp}, f.activities.activities())
}

func TestLoginWithGoogle_UnknownClient(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.LoginWithGoogle(context.Background(), LoginInput{ClientID: "intruder", Credential: "c"})
	assertUnauthorized(t, err, "Invalid client.")
	f.verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestLoginWithGoogle_RejectedCredentialCountsFailure(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{"email not verified", "Must verify email."},
		{"hosted domain not allowed", "Invalid email address."},
		{"bad signature", "Invalid credential."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			f.attempts.On("Failures", mock.Anything, "10.0.0.1").Return(int64(0), nil)
			f.attempts.On("RecordFailure", mock.Anything, "10.0.0.1", testLockout.Window).Return(int64(1), nil)
			f.verifier.On("Verify", mock.Anything, "c").Return(nil, apperrors.Unauthorized(tt.message))

			_, err := f.svc.LoginWithGoogle(context.Background(), LoginInput{ClientID: "web", Credential: "c", RemoteAddr: "10.0.0.1"})

			assertUnauthorized(t, err, tt.message)
			f.attempts.AssertExpectations(t)
			assert.Equal(t, []domain.Activity{domain.ActivityLoginAttemptFailed}, f.activities.activities())
			assert.Zero(t, f.refresh.len())
		})
	}
}

func TestLoginWithGoogle_UnavailableIsNotAFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.attempts.On("Failures", mock.Anything, mock.Anything).Return(int64(0), nil)
	f.verifier.On("Verify", mock.Anything, mock.Anything).
		Return(nil, apperrors.Unavailable("Identity provider unavailable.", errors.New("dial tcp: timeout")))

	_, err := f.svc.LoginWithGoogle(context.Background(), LoginInput{ClientID: "web", Credential: "c", RemoteAddr: "10.0.0.1"})

	assert.True(t, apperrors.IsKind(err, apperrors.KindUnavailable))
	f.attempts.AssertNotCalled(t, "RecordFailure", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginWithGoogle_LockedOut(t *testing.T) {
	f := newAuthFixture(t)
	f.attempts.On("Failures", mock.Anything, "10.0.0.1").Return(int64(3), nil)

	_, err := f.svc.LoginWithGoogle(context.Background(), LoginInput{ClientID: "web", Credential: "c", RemoteAddr: "10.0.0.1"})

	assert.True(t, apperrors.IsKind(err, apperrors.KindRateLimited))
	f.verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
	assert.Equal(t, []domain.Activity{domain.ActivityLockedOut}, f.activities.activities())
}

func TestLoginWithGoogle_LockoutStoreDownFailsOpen(t *testing.T) {
	f := newAuthFixture(t)
	f.attempts.On("Failures", mock.Anything, mock.Anything).Return(int64(0), errors.New("redis: connection refused"))
	f.attempts.On("Reset", mock.Anything, mock.Anything).Return(errors.New("redis: connection refused"))
	f.verifier.On("Verify", mock.Anything, mock.Anything).Return(sampleClaim(), nil)
	f.users.On("GetByProvider", mock.Anything, mock.Anything, mock.Anything).Return(sampleUser(), nil)

	pair, err := f.svc.LoginWithGoogle(context.Background(), LoginInput{ClientID: "web", Credential: "c", RemoteAddr: "10.0.0.1"})

	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestLoginWithGoogle_NoAttemptStore(t *testing.T) {
	tf := newTokenFixture(t)
	verifier := &mockVerifier{}
	verifier.On("Verify", mock.Anything, mock.Anything).Return(sampleClaim(), nil)
	tf.users.On("GetByProvider", mock.Anything, mock.Anything, mock.Anything).Return(sampleUser(), nil)
	svc := NewAuthService(tf.registry, verifier, tf.userSvc, tf.svc, nil, testLockout, newTestLogger())

	_, err := svc.LoginWithGoogle(context.Background(), LoginInput{ClientID: "web", Credential: "c", RemoteAddr: "10.0.0.1"})
	assert.NoError(t, err)
}
