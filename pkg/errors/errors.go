package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("resource not found")
	ErrAlreadyExists   = errors.New("resource already exists")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrServiceUnavail  = errors.New("service unavailable")
	ErrConfiguration   = errors.New("configuration error")
	ErrInternal        = errors.New("internal error")
)

// Kind is the closed set of error categories understood by the HTTP boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindArgument
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimited
	KindUnavailable
	KindConfiguration
)

type kindInfo struct {
	name     string
	code     string
	status   int
	sentinel error
}

var kinds = map[Kind]kindInfo{
	KindInternal:      {"internal", "INTERNAL_ERROR", http.StatusInternalServerError, ErrInternal},
	KindArgument:      {"argument", "INVALID_ARGUMENT", http.StatusBadRequest, ErrInvalidArgument},
	KindValidation:    {"validation", "VALIDATION_ERROR", http.StatusBadRequest, ErrValidation},
	KindUnauthorized:  {"unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized},
	KindForbidden:     {"forbidden", "FORBIDDEN", http.StatusForbidden, ErrForbidden},
	KindNotFound:      {"not_found", "NOT_FOUND", http.StatusNotFound, ErrNotFound},
	KindConflict:      {"conflict", "CONFLICT", http.StatusConflict, ErrConflict},
	KindRateLimited:   {"rate_limited", "RATE_LIMITED", http.StatusTooManyRequests, ErrRateLimited},
	KindUnavailable:   {"unavailable", "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, ErrServiceUnavail},
	KindConfiguration: {"configuration", "CONFIGURATION_ERROR", http.StatusInternalServerError, ErrConfiguration},
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return kinds[KindInternal].name
}

// Status returns the HTTP status code mapped to the kind.
func (k Kind) Status() int {
	if info, ok := kinds[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Code returns the machine-readable error code mapped to the kind.
func (k Kind) Code() string {
	if info, ok := kinds[k]; ok {
		return info.code
	}
	return kinds[KindInternal].code
}

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil && !isSentinel(e.Err) {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes both the kind sentinel and the wrapped cause so errors.Is
// matches either.
func (e *AppError) Unwrap() []error {
	sentinel := kinds[e.Kind].sentinel
	if e.Err == nil || e.Err == sentinel {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

func isSentinel(err error) bool {
	for _, info := range kinds {
		if err == info.sentinel {
			return true
		}
	}
	return err == ErrAlreadyExists
}

// New creates an AppError of the given kind.
func New(kind Kind, message string, cause error) *AppError {
	if _, ok := kinds[kind]; !ok {
		kind = KindInternal
	}
	return &AppError{
		Kind:    kind,
		Code:    kind.Code(),
		Message: message,
		Status:  kind.Status(),
		Err:     cause,
	}
}

// Argument creates a 400 error for an empty or malformed required value.
func Argument(name string) *AppError {
	return New(KindArgument, fmt.Sprintf("%s is required", name), nil)
}

// Validation creates a 400 error for a request body that failed validation.
func Validation(message string) *AppError {
	return New(KindValidation, message, nil)
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return New(KindArgument, message, nil)
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return New(KindNotFound, fmt.Sprintf("%s with id %s not found", resource, id), nil)
}

// NotFoundMessage creates a 404 error with a caller-supplied message.
func NotFoundMessage(message string) *AppError {
	return New(KindNotFound, message, nil)
}

// AlreadyExists creates a 409 error for a uniqueness violation.
func AlreadyExists(resource, field, value string) *AppError {
	e := New(KindConflict, fmt.Sprintf("%s with %s %q already exists", resource, field, value), ErrAlreadyExists)
	e.Code = "ALREADY_EXISTS"
	return e
}

// Conflict creates a 409 error.
func Conflict(message string) *AppError {
	return New(KindConflict, message, nil)
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return New(KindUnauthorized, message, nil)
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return New(KindForbidden, message, nil)
}

// RateLimited creates a 429 error.
func RateLimited(message string) *AppError {
	return New(KindRateLimited, message, nil)
}

// Unavailable creates a retryable 503 error for a failing dependency.
func Unavailable(message string, cause error) *AppError {
	return New(KindUnavailable, message, cause)
}

// Configuration creates an error for a server misconfiguration.
func Configuration(message string) *AppError {
	return New(KindConfiguration, message, nil)
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return New(KindInternal, "an internal error occurred", err)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// KindOf returns the kind of the outermost AppError in err's chain, falling
// back to sentinel matching for plain errors. A deadline that ran out is
// Unavailable.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	switch {
	case errors.Is(err, ErrInvalidArgument):
		return KindArgument
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrServiceUnavail), errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	default:
		return KindInternal
	}
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return KindOf(err).Status()
}
