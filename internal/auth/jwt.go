package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/utafrali/authgate/internal/domain"
)

// ErrInvalidToken is wrapped by every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the claims of both access and refresh tokens. Key is only
// set on refresh tokens and carries the raw token key.
type Claims struct {
	ClientID  string `json:"client_id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Key       string `json:"key,omitempty"`
	jwt.RegisteredClaims
}

// Expiry returns the exp claim, or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ClientSecrets is the part of the client registry token signing needs.
type ClientSecrets interface {
	Secret(clientID string) ([]byte, error)
	Issuer() string
	Audiences() []string
	HasAudience(aud []string) bool
}

// JWTManager signs and verifies HS256 tokens with per-client secrets.
type JWTManager struct {
	clients       ClientSecrets
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
}

// NewJWTManager creates a new JWT manager for the given registry and expiry durations.
func NewJWTManager(clients ClientSecrets, accessExpiry, refreshExpiry time.Duration) *JWTManager {
	return &JWTManager{
		clients:       clients,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		now:           time.Now,
	}
}

// WithClock replaces the manager's time source.
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	m.now = now
	return m
}

// AccessExpiry returns the access token lifetime.
func (m *JWTManager) AccessExpiry() time.Duration { return m.accessExpiry }

// RefreshExpiry returns the refresh token lifetime.
func (m *JWTManager) RefreshExpiry() time.Duration { return m.refreshExpiry }

// GenerateAccessToken signs an access token for user, bound to clientID.
func (m *JWTManager) GenerateAccessToken(clientID string, user *domain.User) (string, time.Time, error) {
	token, exp, err := m.sign(clientID, user, "", m.accessExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return token, exp, nil
}

// GenerateRefreshToken signs a refresh token embedding the raw key.
func (m *JWTManager) GenerateRefreshToken(clientID string, user *domain.User, key string) (string, time.Time, error) {
	token, exp, err := m.sign(clientID, user, key, m.refreshExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return token, exp, nil
}

func (m *JWTManager) sign(clientID string, user *domain.User, key string, ttl time.Duration) (string, time.Time, error) {
	secret, err := m.clients.Secret(clientID)
	if err != nil {
		return "", time.Time{}, err
	}

	now := m.now().UTC()
	exp := now.Add(ttl)
	claims := &Claims{
		ClientID:  clientID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Key:       key,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    m.clients.Issuer(),
			Audience:  m.clients.Audiences(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp.Truncate(time.Second), nil
}

// Decode parses a token without verifying it. Its claims are only fit for
// choosing which secret to verify with.
func (m *JWTManager) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Verify checks the signature with clientID's secret and validates issuer,
// audience, subject and expiry.
func (m *JWTManager) Verify(tokenString, clientID string) (*Claims, error) {
	secret, err := m.clients.Secret(clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.clients.Issuer()),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !m.clients.HasAudience(claims.Audience) {
		return nil, fmt.Errorf("%w: audience not accepted", ErrInvalidToken)
	}
	return claims, nil
}
