package middleware

import (
	"net/http"

	apperrors "github.com/utafrali/authgate/pkg/errors"
)

// CSRFConfig configures the double-submit CSRF check.
type CSRFConfig struct {
	CookieName string
	HeaderName string
}

// CSRF rejects requests whose CSRF cookie is missing or differs from the
// value echoed in the CSRF header.
func CSRF(cfg CSRFConfig, onError ErrorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cfg.CookieName)
			header := r.Header.Get(cfg.HeaderName)
			if err != nil || cookie.Value == "" || header == "" || !ConstantTimeEqual(cookie.Value, header) {
				onError(w, r, apperrors.Unauthorized("Missing or Invalid CSRF Token."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
