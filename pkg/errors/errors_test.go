package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		status   int
		code     string
		sentinel error
	}{
		{"not found", NotFound("index", "product/b2c_en"), http.StatusNotFound, "NOT_FOUND", ErrNotFound},
		{"invalid input", InvalidInput("entity_type is required"), http.StatusBadRequest, "INVALID_INPUT", ErrInvalidInput},
		{"invalid filter", InvalidInputCode("INVALID_FILTER", "empty and", nil), http.StatusBadRequest, "INVALID_FILTER", ErrInvalidInput},
		{"unauthorized", Unauthorized("missing api key"), http.StatusUnauthorized, "UNAUTHORIZED", ErrUnauthorized},
		{"forbidden", Forbidden("api key revoked"), http.StatusForbidden, "FORBIDDEN", ErrForbidden},
		{"conflict", Conflict("reindex already running"), http.StatusConflict, "CONFLICT", ErrConflict},
		{"gone", Gone("index removed"), http.StatusGone, "GONE", ErrGone},
		{"unprocessable", Unprocessable("bad mapping"), http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", ErrUnprocessable},
		{"unavailable", Unavailable("gally is down"), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", ErrServiceUnavail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestNotFound_Message(t *testing.T) {
	err := NotFound("index", "product/b2c_en")
	assert.Equal(t, "index product/b2c_en not found", err.Message)
	assert.Equal(t, "NOT_FOUND: index product/b2c_en not found", err.Error())
}

func TestInvalidInputCode_KeepsCause(t *testing.T) {
	cause := errors.New("unknown operator \"LIKE\"")
	err := InvalidInputCode("INVALID_FILTER", cause.Error(), cause)

	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "INVALID_FILTER")
}

func TestAppError_Unwrap(t *testing.T) {
	assert.Nil(t, (&AppError{Code: "X", Message: "y"}).Unwrap())

	inner := errors.New("connection reset")
	err := &AppError{Code: "SEARCH_FAILED", Message: "search failed", Err: inner}
	assert.Same(t, inner, err.Unwrap())
	assert.Equal(t, "SEARCH_FAILED: search failed: connection reset", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"wrapped app error", fmt.Errorf("schedule reindex: %w", Conflict("busy")), http.StatusConflict},
		{"app error with custom status", &AppError{Code: "TEAPOT", Status: http.StatusTeapot}, http.StatusTeapot},
		{"bare sentinel", ErrNotFound, http.StatusNotFound},
		{"wrapped sentinel", fmt.Errorf("load job 4: %w", ErrGone), http.StatusGone},
		{"joined sentinel", errors.Join(errors.New("a"), ErrServiceUnavail), http.StatusServiceUnavailable},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"nil", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestSentinelStatus_CoversEverySentinel(t *testing.T) {
	seen := map[error]bool{}
	for _, s := range sentinelStatus {
		require.False(t, seen[s.err], "duplicate sentinel %v", s.err)
		seen[s.err] = true
	}
	assert.Len(t, seen, 8)
}
