package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/authgate/internal/auth"
	"github.com/utafrali/authgate/internal/domain"
	apperrors "github.com/utafrali/authgate/pkg/errors"
)

const (
	msgAccessTokenRequired  = "Access token is required."
	msgClientIDRequired     = "Client id required."
	msgInvalidAccessToken   = "Invalid access token."
	msgRefreshTokenRequired = "RefreshToken required."

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	tokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_tokens_issued_total",
			Help: "Total number of tokens issued, by token type",
		},
		[]string{"type"},
	)
	tokenValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_token_validation_failures_total",
			Help: "Total number of rejected tokens, by token type",
		},
		[]string{"type"},
	)
	refreshTokenReuse = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authgate_refresh_token_reuse_total",
			Help: "Total number of presented refresh tokens whose record was already invalidated",
		},
	)
)

// TokenService issues, validates, rotates and revokes access and refresh
// tokens on behalf of registered clients.
type TokenService struct {
	jwt    *auth.JWTManager
	users  *UserService
	store  *RefreshTokenStore
	logger *slog.Logger
	newKey func() string
}

// NewTokenService creates a new token service.
func NewTokenService(jwt *auth.JWTManager, users *UserService, store *RefreshTokenStore, logger *slog.Logger) *TokenService {
	return &TokenService{
		jwt:    jwt,
		users:  users,
		store:  store,
		logger: logger,
		newKey: uuid.NewString,
	}
}

// SignAccessToken signs an access token for an existing user.
func (s *TokenService) SignAccessToken(ctx context.Context, clientID, userID string) (string, error) {
	if clientID == "" {
		return "", apperrors.Argument("clientId")
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.signAccessToken(clientID, user)
}

func (s *TokenService) signAccessToken(clientID string, user *domain.User) (string, error) {
	token, _, err := s.jwt.GenerateAccessToken(clientID, user)
	if err != nil {
		return "", err
	}
	tokensIssued.WithLabelValues(tokenTypeAccess).Inc()
	return token, nil
}

// ValidateAccessToken verifies an access token and returns its claims.
//
// When clientID is given the token must verify with that client's secret
// and carry it as client_id. Otherwise the token's own client_id selects the
// secret. Every verification failure yields the same Unauthorized error.
func (s *TokenService) ValidateAccessToken(ctx context.Context, token string, clientIDRequired bool, clientID string) (*auth.Claims, error) {
	if token == "" {
		return nil, apperrors.Unauthorized(msgAccessTokenRequired)
	}
	if clientIDRequired && clientID == "" {
		return nil, apperrors.Unauthorized(msgClientIDRequired)
	}

	claims, err := s.verify(token, clientID)
	if err == nil && clientID != "" && claims.ClientID != clientID {
		err = fmt.Errorf("%w: client_id %q does not match %q", auth.ErrInvalidToken, claims.ClientID, clientID)
	}
	if err == nil && claims.Key != "" {
		err = fmt.Errorf("%w: refresh token presented as access token", auth.ErrInvalidToken)
	}
	if err != nil {
		return nil, s.rejected(ctx, tokenTypeAccess, msgInvalidAccessToken, err)
	}
	return claims, nil
}

// AddRefreshToken issues a refresh token for an existing user and stores
// the hash of its key.
func (s *TokenService) AddRefreshToken(ctx context.Context, userID, clientID string) (string, error) {
	if userID == "" {
		return "", apperrors.Argument("userId")
	}
	if clientID == "" {
		return "", apperrors.Argument("clientId")
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.addRefreshToken(ctx, clientID, user)
}

func (s *TokenService) addRefreshToken(ctx context.Context, clientID string, user *domain.User) (string, error) {
	key := s.newKey()
	hash, err := auth.HashToken(key)
	if err != nil {
		return "", err
	}
	token, exp, err := s.jwt.GenerateRefreshToken(clientID, user, key)
	if err != nil {
		return "", err
	}
	if _, err := s.store.Add(ctx, user.ID, exp, hash); err != nil {
		return "", err
	}
	tokensIssued.WithLabelValues(tokenTypeRefresh).Inc()
	return token, nil
}

// IssueTokenPair signs an access token and issues a refresh token for user.
func (s *TokenService) IssueTokenPair(ctx context.Context, clientID string, user *domain.User) (*domain.TokenPair, error) {
	access, err := s.signAccessToken(clientID, user)
	if err != nil {
		return nil, fmt.Errorf("issue token pair: %w", err)
	}
	refresh, err := s.addRefreshToken(ctx, clientID, user)
	if err != nil {
		return nil, fmt.Errorf("issue token pair: %w", err)
	}
	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// ValidateRefreshToken verifies a refresh token and checks that its stored
// record is still active.
func (s *TokenService) ValidateRefreshToken(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := s.verifyRefreshToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Validate(ctx, claims.Subject, claims.Key); err != nil {
		if errors.Is(err, domain.ErrRefreshTokenReused) {
			refreshTokenReuse.Inc()
		}
		return nil, err
	}
	return claims, nil
}

func (s *TokenService) verifyRefreshToken(ctx context.Context, token string) (*auth.Claims, error) {
	if token == "" {
		return nil, apperrors.Unauthorized(msgRefreshTokenRequired)
	}
	claims, err := s.verify(token, "")
	if err == nil && claims.Key == "" {
		err = fmt.Errorf("%w: missing key", auth.ErrInvalidToken)
	}
	if err != nil {
		return nil, s.rejected(ctx, tokenTypeRefresh, msgInvalidRefreshToken, err)
	}
	return claims, nil
}

// InvalidateRefreshToken expires the user's record for tokenKey.
func (s *TokenService) InvalidateRefreshToken(ctx context.Context, userID, tokenKey string) error {
	if userID == "" {
		return apperrors.Argument("userId")
	}
	if tokenKey == "" {
		return apperrors.Argument("tokenKey")
	}
	if err := s.users.EnsureExists(ctx, userID); err != nil {
		return err
	}
	return s.store.Invalidate(ctx, userID, tokenKey)
}

// RotateRefreshToken exchanges a refresh token issued to clientID for a new
// token pair. The presented token's record is expired and its successor
// stored in one transaction. Presenting an already rotated or revoked token
// is recorded as INVALID_REFRESH and rejected.
func (s *TokenService) RotateRefreshToken(ctx context.Context, refreshToken, clientID, remoteAddr string) (*domain.TokenPair, error) {
	if clientID == "" {
		return nil, apperrors.Unauthorized(msgClientIDRequired)
	}
	claims, err := s.verifyRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.ClientID != clientID {
		return nil, s.rejected(ctx, tokenTypeRefresh, msgInvalidRefreshToken,
			fmt.Errorf("%w: client_id %q does not match %q", auth.ErrInvalidToken, claims.ClientID, clientID))
	}

	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	key := s.newKey()
	hash, err := auth.HashToken(key)
	if err != nil {
		return nil, err
	}
	refresh, exp, err := s.jwt.GenerateRefreshToken(clientID, user, key)
	if err != nil {
		return nil, err
	}

	next := s.store.NewRecord(user.ID, hash, exp)
	if _, err := s.store.Rotate(ctx, user.ID, claims.Key, next); err != nil {
		if errors.Is(err, domain.ErrRefreshTokenReused) {
			refreshTokenReuse.Inc()
			s.logger.WarnContext(ctx, "refresh token reuse detected",
				slog.String("user_id", user.ID),
				slog.String("client_id", clientID),
			)
			s.users.recordActivity(ctx, domain.ActivityInvalidRefresh, user, user.ID, remoteAddr)
		}
		return nil, err
	}
	tokensIssued.WithLabelValues(tokenTypeRefresh).Inc()

	access, err := s.signAccessToken(clientID, user)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// RevokeRefreshToken invalidates a refresh token issued to clientID.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, refreshToken, clientID string) error {
	claims, err := s.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	if claims.ClientID != clientID {
		return s.rejected(ctx, tokenTypeRefresh, msgInvalidRefreshToken,
			fmt.Errorf("%w: client_id %q does not match %q", auth.ErrInvalidToken, claims.ClientID, clientID))
	}
	return s.InvalidateRefreshToken(ctx, claims.Subject, claims.Key)
}

// RevokeAllRefreshTokens expires every active refresh token of the user and
// returns how many were expired.
func (s *TokenService) RevokeAllRefreshTokens(ctx context.Context, userID, remoteAddr string) (int64, error) {
	if err := s.users.EnsureExists(ctx, userID); err != nil {
		return 0, err
	}
	n, err := s.store.InvalidateAll(ctx, userID)
	if err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "refresh tokens revoked",
		slog.String("user_id", userID),
		slog.Int64("count", n),
	)
	s.users.recordActivity(ctx, domain.ActivitySessionsRevoked, nil, userID, remoteAddr)
	return n, nil
}

// Introspect describes an access token. It never fails: any token that does
// not validate is reported inactive.
func (s *TokenService) Introspect(ctx context.Context, token string) domain.Introspection {
	claims, err := s.ValidateAccessToken(ctx, token, false, "")
	if err != nil {
		return domain.Introspection{Active: false}
	}
	return domain.Introspection{
		Active:   true,
		ClientID: claims.ClientID,
		Username: claims.Email,
		Exp:      claims.Expiry().Unix(),
	}
}

// verify decodes token to pick the secret when clientID is empty, then
// verifies it.
func (s *TokenService) verify(token, clientID string) (*auth.Claims, error) {
	if clientID == "" {
		unverified, err := s.jwt.Decode(token)
		if err != nil {
			return nil, err
		}
		if unverified.ClientID == "" || unverified.Subject == "" {
			return nil, fmt.Errorf("%w: missing client_id or sub", auth.ErrInvalidToken)
		}
		clientID = unverified.ClientID
	}
	return s.jwt.Verify(token, clientID)
}

func (s *TokenService) rejected(ctx context.Context, tokenType, message string, cause error) error {
	tokenValidationFailures.WithLabelValues(tokenType).Inc()
	s.logger.DebugContext(ctx, "token rejected",
		slog.String("type", tokenType),
		slog.String("reason", cause.Error()),
	)
	return apperrors.New(apperrors.KindUnauthorized, message, cause)
}
