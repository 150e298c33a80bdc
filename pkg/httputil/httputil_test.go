package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/authgate/pkg/errors"
	"github.com/utafrali/authgate/pkg/logger"
	"github.com/utafrali/authgate/pkg/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *ErrorResponse {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

// --- WriteJSON ---

func TestWriteJSON_SetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"access_token": "x"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"access_token":"x"}`, rec.Body.String())
}

func TestNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	NoContent(rec)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

// --- ErrorWriter ---

func TestWriteError_AppErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"unauthorized", apperrors.Unauthorized("Invalid refresh token."), http.StatusUnauthorized, "UNAUTHORIZED", "Invalid refresh token."},
		{"argument", apperrors.Argument("userId"), http.StatusBadRequest, "INVALID_ARGUMENT", "userId is required"},
		{"not found", apperrors.NotFoundMessage("User not found."), http.StatusNotFound, "NOT_FOUND", "User not found."},
		{"conflict", apperrors.Conflict("duplicate"), http.StatusConflict, "CONFLICT", "duplicate"},
		{"unavailable", apperrors.Unavailable("identity provider unavailable", errors.New("eof")), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "identity provider unavailable"},
		{"wrapped", fmt.Errorf("rotate: %w", apperrors.Unauthorized("nope")), http.StatusUnauthorized, "UNAUTHORIZED", "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/token", nil)

			WriteError(rec, req, tt.err, testLogger())

			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.message, body.Message)
		})
	}
}

func TestWriteError_RedactsUnclassified(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	WriteError(rec, req, errors.New("pq: password authentication failed"), testLogger())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "an internal error occurred", decodeError(t, rec).Message)
}

func TestErrorWriter_ExposeUnclassified(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)

	ErrorWriter{Logger: testLogger(), Expose: true}.Write(rec, req, errors.New("boom"))

	assert.Equal(t, "boom", decodeError(t, rec).Message)
}

func TestWriteError_ValidationFields(t *testing.T) {
	type body struct {
		Token string `json:"token" validate:"required"`
	}
	verr := validator.Validate(body{})
	require.Error(t, verr)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	WriteError(rec, req, verr, testLogger())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
	assert.Equal(t, "Missing or invalid token.", resp.Fields["token"])
}

func TestWriteError_IncludesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(logger.WithCorrelationID(context.Background(), "corr-1"))

	WriteError(rec, req, apperrors.Unauthorized("x"), testLogger())

	assert.Equal(t, "corr-1", decodeError(t, rec).RequestID)
}

func TestWriteError_LogsEveryError(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/token/revoke", nil)
	req = req.WithContext(logger.NewContext(req.Context(), l))

	WriteError(rec, req, apperrors.Unauthorized("Invalid refresh token."), testLogger())

	assert.Contains(t, buf.String(), "request rejected")
	assert.Contains(t, buf.String(), "/api/v1/token/revoke")
}
