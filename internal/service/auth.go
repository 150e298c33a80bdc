package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/utafrali/authgate/internal/domain"
	"github.com/utafrali/authgate/internal/repository"
	apperrors "github.com/utafrali/authgate/pkg/errors"
)

// IdentityVerifier verifies a third-party identity assertion.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (*domain.IdentityClaim, error)
}

// ClientChecker reports whether a client id is registered.
type ClientChecker interface {
	Has(clientID string) bool
}

// LockoutPolicy bounds failed logins per remote address.
type LockoutPolicy struct {
	MaxFailures int64
	Window      time.Duration
}

// LoginInput holds the parameters for a Google sign-in.
type LoginInput struct {
	ClientID   string
	Credential string
	RemoteAddr string
}

// AuthService signs users in with an external identity assertion.
type AuthService struct {
	clients  ClientChecker
	verifier IdentityVerifier
	users    *UserService
	tokens   *TokenService
	attempts repository.LoginAttemptStore
	lockout  LockoutPolicy
	logger   *slog.Logger
}

// NewAuthService creates a new auth service. attempts may be nil, which
// disables the lockout.
func NewAuthService(
	clients ClientChecker,
	verifier IdentityVerifier,
	users *UserService,
	tokens *TokenService,
	attempts repository.LoginAttemptStore,
	lockout LockoutPolicy,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		clients:  clients,
		verifier: verifier,
		users:    users,
		tokens:   tokens,
		attempts: attempts,
		lockout:  lockout,
		logger:   logger,
	}
}

// LoginWithGoogle verifies a Google ID token, gets or creates the user and
// issues a token pair bound to the client.
func (s *AuthService) LoginWithGoogle(ctx context.Context, in LoginInput) (*domain.TokenPair, error) {
	if in.ClientID == "" || !s.clients.Has(in.ClientID) {
		return nil, apperrors.Unauthorized("Invalid client.")
	}

	if s.lockedOut(ctx, in.RemoteAddr) {
		s.users.recordActivity(ctx, domain.ActivityLockedOut, nil, "", in.RemoteAddr)
		return nil, apperrors.RateLimited("Too many failed login attempts.")
	}

	claim, err := s.verifier.Verify(ctx, in.Credential)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindUnauthorized) {
			s.recordFailure(ctx, in.RemoteAddr)
		}
		return nil, err
	}

	user, _, err := s.users.GetOrCreateUser(ctx, claim, in.RemoteAddr)
	if err != nil {
		return nil, err
	}
	s.resetFailures(ctx, in.RemoteAddr)

	return s.tokens.IssueTokenPair(ctx, in.ClientID, user)
}

// lockedOut reports whether remoteAddr has reached the failure limit. Store
// errors are logged and treated as not locked out.
func (s *AuthService) lockedOut(ctx context.Context, remoteAddr string) bool {
	if s.attempts == nil || remoteAddr == "" {
		return false
	}
	n, err := s.attempts.Failures(ctx, remoteAddr)
	if err != nil {
		s.logger.WarnContext(ctx, "login attempt store unavailable",
			slog.String("error", err.Error()),
		)
		return false
	}
	return n >= s.lockout.MaxFailures
}

func (s *AuthService) recordFailure(ctx context.Context, remoteAddr string) {
	s.users.recordActivity(ctx, domain.ActivityLoginAttemptFailed, nil, "", remoteAddr)

	if s.attempts == nil || remoteAddr == "" {
		return
	}
	n, err := s.attempts.RecordFailure(ctx, remoteAddr, s.lockout.Window)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record login failure",
			slog.String("remote_addr", remoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}
	if n == s.lockout.MaxFailures {
		s.logger.WarnContext(ctx, "remote address locked out",
			slog.String("remote_addr", remoteAddr),
			slog.Duration("window", s.lockout.Window),
		)
	}
}

func (s *AuthService) resetFailures(ctx context.Context, remoteAddr string) {
	if s.attempts == nil || remoteAddr == "" {
		return
	}
	if err := s.attempts.Reset(ctx, remoteAddr); err != nil {
		s.logger.WarnContext(ctx, "failed to reset login failures",
			slog.String("remote_addr", remoteAddr),
			slog.String("error", err.Error()),
		)
	}
}
