package http

import (
	"net/http"

	"github.com/utafrali/authgate/internal/service"
	"github.com/utafrali/authgate/pkg/httputil"
	"github.com/utafrali/authgate/pkg/middleware"
)

// AuthHandler handles HTTP requests for sign-in endpoints.
type AuthHandler struct {
	service        *service.AuthService
	trustForwarded bool
	errors         errorWriter
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.AuthService, trustForwarded bool, errs errorWriter) *AuthHandler {
	return &AuthHandler{service: svc, trustForwarded: trustForwarded, errors: errs}
}

// GoogleAuthenticationRequest is the JSON request body for Google sign-in.
type GoogleAuthenticationRequest struct {
	ClientID   string `json:"clientId" validate:"required,max=128"`
	Credential string `json:"credential" validate:"required,jwt"`
}

// AuthenticateGoogle handles POST /api/v1/authenticate/google
func (h *AuthHandler) AuthenticateGoogle(w http.ResponseWriter, r *http.Request) {
	var req GoogleAuthenticationRequest
	if err := decode(w, r, &req); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	pair, err := h.service.LoginWithGoogle(r.Context(), service.LoginInput{
		ClientID:   req.ClientID,
		Credential: req.Credential,
		RemoteAddr: middleware.ClientIP(r, h.trustForwarded),
	})
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pair)
}
