package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
	}{
		{ValidationError("bad input"), http.StatusBadRequest},
		{NotFoundError("missing"), http.StatusNotFound},
		{ConflictError("contended", nil), http.StatusConflict},
		{RateLimitedError("slow down"), http.StatusTooManyRequests},
		{UnavailableError("store down", nil), http.StatusServiceUnavailable},
		{InternalError("boom", nil), http.StatusInternalServerError},
		{ExternalError("upstream", nil), http.StatusBadGateway},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, tt.err.HTTPStatus(), "type %s", tt.err.Type)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, ConflictError("contended", nil).Retryable())
	assert.True(t, UnavailableError("down", nil).Retryable())
	assert.False(t, ValidationError("bad").Retryable())
	assert.False(t, RateLimitedError("fast").Retryable())
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := UnavailableError("store unreachable", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAsStructuredError_PassesThrough(t *testing.T) {
	original := ValidationError("bad emoji")
	got := AsStructuredError(original)

	assert.Same(t, original, got)
}

func TestAsStructuredError_WrapsPlainErrors(t *testing.T) {
	got := AsStructuredError(errors.New("oops"))

	require.NotNil(t, got)
	assert.Equal(t, TypeInternal, got.Type)
}

func TestAsStructuredError_WrappedDeep(t *testing.T) {
	inner := NotFoundError("post missing")
	wrapped := errors.Join(errors.New("outer"), inner)

	got := AsStructuredError(wrapped)
	assert.Equal(t, TypeNotFound, got.Type)
}

func TestWithField(t *testing.T) {
	err := ValidationError("bad emoji").WithField("emoji", "🎉").WithField("post_id", "p1")

	assert.Equal(t, "🎉", err.Context["emoji"])
	assert.Equal(t, "p1", err.Context["post_id"])
}

func TestToResponse(t *testing.T) {
	err := RateLimitedError("submit interval not elapsed").WithField("user_id", "u1")
	resp := err.ToResponse()

	assert.Equal(t, "submit interval not elapsed", resp.Error)
	assert.Equal(t, TypeRateLimited, resp.Type)
	assert.Equal(t, "u1", resp.Context["user_id"])
}
