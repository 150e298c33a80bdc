package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/authgate/pkg/errors"
	"github.com/utafrali/authgate/pkg/logger"
)

type contextKeyType string

const (
	principalKey contextKeyType = "principal"
	clientKey    contextKeyType = "client_id"
)

const msgInvalidCredential = "Missing or invalid credential."

// ErrorFunc writes err as the response. Middlewares never format errors
// themselves so every rejection goes through the same boundary translator.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// Principal is the identity proven by a verified bearer access token.
type Principal struct {
	UserID    string
	ClientID  string
	Email     string
	FirstName string
	LastName  string
	Token     string
}

// TokenValidator verifies a raw bearer token. clientID is the client the
// caller claims to act for and may be empty.
type TokenValidator func(ctx context.Context, token, clientID string) (*Principal, error)

// BearerToken extracts the token of an "Authorization: Bearer" header. It
// returns an empty token when the header is absent and an error when the
// header uses another scheme.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", apperrors.Unauthorized(msgInvalidCredential)
	}
	return strings.TrimSpace(token), nil
}

// BearerAuth validates the bearer access token and stores the resulting
// Principal in the request context. clientIDParam names an optional query
// parameter whose value is passed to the validator as the expected client.
func BearerAuth(validate TokenValidator, clientIDParam string, onError ErrorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				onError(w, r, err)
				return
			}

			var clientID string
			if clientIDParam != "" {
				clientID = r.URL.Query().Get(clientIDParam)
			}

			principal, err := validate(r.Context(), token, clientID)
			if err != nil {
				onError(w, r, err)
				return
			}
			principal.Token = token

			ctx := context.WithValue(r.Context(), principalKey, principal)
			ctx = logger.WithUserID(ctx, principal.UserID)
			ctx = logger.WithClientID(ctx, principal.ClientID)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(
				"user_id", principal.UserID,
				"client_id", principal.ClientID,
			))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext returns the principal stored by BearerAuth.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

// ClientAuthenticator reports whether secret belongs to clientID.
type ClientAuthenticator func(clientID, secret string) bool

// ClientBasicAuth authenticates the calling client application with HTTP
// Basic credentials (client id and secret) and stores its id in context.
func ClientBasicAuth(authenticate ClientAuthenticator, onError ErrorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, secret, ok := r.BasicAuth()
			if !ok || clientID == "" || secret == "" || !authenticate(clientID, secret) {
				w.Header().Set("WWW-Authenticate", `Basic realm="authgate"`)
				onError(w, r, apperrors.Unauthorized(msgInvalidCredential))
				return
			}

			ctx := context.WithValue(r.Context(), clientKey, clientID)
			ctx = logger.WithClientID(ctx, clientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIDFromContext returns the client authenticated by ClientBasicAuth.
func ClientIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(clientKey).(string); ok {
		return id
	}
	return ""
}

// ConstantTimeEqual compares two secrets without leaking their common prefix
// length through timing.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
