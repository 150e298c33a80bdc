package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/authgate/pkg/errors"
	"github.com/utafrali/authgate/pkg/logger"
	"github.com/utafrali/authgate/pkg/validator"
)

// Response is the error envelope written by the boundary translator.
type Response struct {
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse represents an error in the standard response format.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// ErrorWriter translates errors into HTTP responses. Every error is logged;
// unclassified errors have their message redacted unless Expose is set.
type ErrorWriter struct {
	Logger *slog.Logger
	Expose bool
}

// WriteJSON writes a JSON response with the given status code.
// If encoding fails, the error is logged but headers are already sent so nothing can be done.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NoContent writes a 204 response.
func NoContent(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

// Write writes a standardized error response based on the error kind.
func (ew ErrorWriter) Write(w http.ResponseWriter, r *http.Request, err error) {
	// Prefer the request-scoped logger (enriched with correlation_id, user_id,
	// trace_id, span_id) if the RequestLogger middleware has been mounted.
	l := logger.FromContext(r.Context())
	if l == slog.Default() && ew.Logger != nil {
		l = ew.Logger
	}
	requestID := logger.CorrelationIDFromContext(r.Context())

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		l.InfoContext(r.Context(), "request validation failed",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
		WriteJSON(w, http.StatusBadRequest, Response{
			Error: &ErrorResponse{
				Code:      apperrors.KindValidation.Code(),
				Message:   valErr.Error(),
				Fields:    valErr.Fields(),
				RequestID: requestID,
			},
		})
		return
	}

	kind := apperrors.KindOf(err)
	status := apperrors.HTTPStatus(err)
	code := kind.Code()
	message := "an internal error occurred"

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
	}
	if kind == apperrors.KindInternal && ew.Expose {
		message = err.Error()
	}

	attrs := []any{
		slog.String("error", err.Error()),
		slog.String("kind", kind.String()),
		slog.Int("status", status),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	}
	if status >= http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "request failed", attrs...)
	} else {
		l.WarnContext(r.Context(), "request rejected", attrs...)
	}

	WriteJSON(w, status, Response{
		Error: &ErrorResponse{Code: code, Message: message, RequestID: requestID},
	})
}

// WriteError writes err using an ErrorWriter with the given fallback logger.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	ErrorWriter{Logger: fallback}.Write(w, r, err)
}
