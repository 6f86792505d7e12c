// Package errors defines the application error type shared by the HTTP
// surface and the outbound clients.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels matched with errors.Is. AppErrors built by the constructors
// below wrap exactly one of them.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrGone           = errors.New("gone")
	ErrUnprocessable  = errors.New("unprocessable entity")
	ErrServiceUnavail = errors.New("service unavailable")
)

// sentinelStatus is consulted in order by HTTPStatus.
var sentinelStatus = []struct {
	err    error
	status int
}{
	{ErrNotFound, http.StatusNotFound},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrForbidden, http.StatusForbidden},
	{ErrConflict, http.StatusConflict},
	{ErrGone, http.StatusGone},
	{ErrUnprocessable, http.StatusUnprocessableEntity},
	{ErrServiceUnavail, http.StatusServiceUnavailable},
}

// AppError is an error with a machine readable code and the HTTP status it
// is answered with. Message is safe to show to API clients.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

func newAppError(status int, code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// NotFound reports a missing resource, e.g. NotFound("index", "product/b2c_en").
func NotFound(resource, id string) *AppError {
	return newAppError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s %s not found", resource, id), ErrNotFound)
}

func InvalidInput(message string) *AppError {
	return newAppError(http.StatusBadRequest, "INVALID_INPUT", message, ErrInvalidInput)
}

// InvalidInputCode is InvalidInput with a specific code such as
// INVALID_FILTER. The cause, if any, stays reachable through errors.Is.
func InvalidInputCode(code, message string, cause error) *AppError {
	err := ErrInvalidInput
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidInput, cause)
	}
	return newAppError(http.StatusBadRequest, code, message, err)
}

func Unauthorized(message string) *AppError {
	return newAppError(http.StatusUnauthorized, "UNAUTHORIZED", message, ErrUnauthorized)
}

func Forbidden(message string) *AppError {
	return newAppError(http.StatusForbidden, "FORBIDDEN", message, ErrForbidden)
}

func Conflict(message string) *AppError {
	return newAppError(http.StatusConflict, "CONFLICT", message, ErrConflict)
}

func Gone(message string) *AppError {
	return newAppError(http.StatusGone, "GONE", message, ErrGone)
}

func Unprocessable(message string) *AppError {
	return newAppError(http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", message, ErrUnprocessable)
}

// Unavailable is returned when a dependency (Gally, the job store, the
// broker) cannot serve the request right now.
func Unavailable(message string) *AppError {
	return newAppError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", message, ErrServiceUnavail)
}

// HTTPStatus returns the status err should be answered with: the status of
// the first AppError in the chain, else the status of a wrapped sentinel,
// else 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}
