package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   string
		status int
	}{
		{NotFound("x", nil), "NOT_FOUND", http.StatusNotFound},
		{Forbidden("x", nil), "FORBIDDEN", http.StatusForbidden},
		{Gone("x", nil), "GONE", http.StatusGone},
		{Conflict("x", nil), "CONFLICT", http.StatusConflict},
		{InvalidInput("x", nil), "INVALID_INPUT", http.StatusBadRequest},
		{Timeout("x", nil), "TIMEOUT", http.StatusInternalServerError},
		{Internal("x", nil), "INTERNAL_ERROR", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.err.Code)
		assert.Equal(t, tc.status, tc.err.Status)
	}
}

func TestIsMatchesWrappedError(t *testing.T) {
	err := fmt.Errorf("handling request: %w", NotFound("missing", nil))
	assert.True(t, Is(err, "NOT_FOUND"))
	assert.False(t, Is(err, "CONFLICT"))
	assert.False(t, Is(errors.New("plain"), "NOT_FOUND"))
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("row lock unavailable")
	err := Conflict("busy", cause)
	assert.ErrorIs(t, err, cause)
}

func TestAsReturnsNilForPlainError(t *testing.T) {
	assert.Nil(t, As(errors.New("plain")))
	assert.NotNil(t, As(Gone("expired", nil)))
}
