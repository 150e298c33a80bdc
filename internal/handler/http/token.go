package http

import (
	"net/http"

	"github.com/utafrali/authgate/internal/service"
	apperrors "github.com/utafrali/authgate/pkg/errors"
	"github.com/utafrali/authgate/pkg/httputil"
	"github.com/utafrali/authgate/pkg/middleware"
)

// TokenHandler handles HTTP requests for token endpoints.
type TokenHandler struct {
	service        *service.TokenService
	trustForwarded bool
	errors         errorWriter
}

// NewTokenHandler creates a new token HTTP handler.
func NewTokenHandler(svc *service.TokenService, trustForwarded bool, errs errorWriter) *TokenHandler {
	return &TokenHandler{service: svc, trustForwarded: trustForwarded, errors: errs}
}

// --- Request DTOs ---

// TokenRequest is the JSON request body of the refresh token grant.
type TokenRequest struct {
	GrantType    string `json:"grant_type" validate:"required,eq=refresh_token"`
	RefreshToken string `json:"refresh_token" validate:"required"`
	ClientID     string `json:"client_id" validate:"required,max=128"`
}

// IntrospectRequest is the JSON request body for token introspection.
type IntrospectRequest struct {
	Token string `json:"token" validate:"required"`
}

// RevokeRequest is the JSON request body for revoking one refresh token.
type RevokeRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	ClientID     string `json:"client_id" validate:"required,max=128"`
}

// RevokeAllRequest is the JSON request body for revoking every refresh token
// of the bearer's user.
type RevokeAllRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// UserInfoResponse is returned by the userinfo endpoint.
type UserInfoResponse struct {
	Sub       string `json:"sub"`
	ClientID  string `json:"client_id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// --- Handlers ---

// Token handles POST /api/v1/token
func (h *TokenHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := decode(w, r, &req); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	remoteAddr := middleware.ClientIP(r, h.trustForwarded)
	pair, err := h.service.RotateRefreshToken(r.Context(), req.RefreshToken, req.ClientID, remoteAddr)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, pair)
}

// Introspect handles POST /api/v1/token/introspect. The response is 200
// whether or not the token is active.
func (h *TokenHandler) Introspect(w http.ResponseWriter, r *http.Request) {
	var req IntrospectRequest
	if err := decode(w, r, &req); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, h.service.Introspect(r.Context(), req.Token))
}

// Revoke handles POST /api/v1/token/revoke
func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if err := decode(w, r, &req); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	if err := h.service.RevokeRefreshToken(r.Context(), req.RefreshToken, req.ClientID); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	httputil.NoContent(w)
}

// RevokeAll handles POST /api/v1/token/revokeAll. The body must repeat the
// bearer access token.
func (h *TokenHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.errors.Write(w, r, apperrors.Unauthorized("Access token is required."))
		return
	}

	var req RevokeAllRequest
	if err := decode(w, r, &req); err != nil {
		h.errors.Write(w, r, err)
		return
	}
	if !middleware.ConstantTimeEqual(req.AccessToken, principal.Token) {
		h.errors.Write(w, r, apperrors.Unauthorized("Invalid access token."))
		return
	}

	remoteAddr := middleware.ClientIP(r, h.trustForwarded)
	if _, err := h.service.RevokeAllRefreshTokens(r.Context(), principal.UserID, remoteAddr); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	httputil.NoContent(w)
}

// UserInfo handles GET /api/v1/userinfo
func (h *TokenHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.errors.Write(w, r, apperrors.Unauthorized("Access token is required."))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, UserInfoResponse{
		Sub:       principal.UserID,
		ClientID:  principal.ClientID,
		Email:     principal.Email,
		FirstName: principal.FirstName,
		LastName:  principal.LastName,
	})
}
