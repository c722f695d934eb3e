package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runMiddleware(t *testing.T, handlerErr error) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/reactions/p1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := Middleware()(func(c echo.Context) error {
		if handlerErr != nil {
			return handlerErr
		}
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, handler(c))
	return rec
}

func TestMiddleware_NoError(t *testing.T) {
	rec := runMiddleware(t, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_StructuredError(t *testing.T) {
	rec := runMiddleware(t, ValidationError("emoji not accepted").WithField("emoji", "🎉"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "emoji not accepted", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "🎉", resp.Context["emoji"])
}

func TestMiddleware_RateLimited(t *testing.T) {
	rec := runMiddleware(t, RateLimitedError("submit interval not elapsed"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMiddleware_PlainErrorBecomesInternal(t *testing.T) {
	rec := runMiddleware(t, assertAnError())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, TypeInternal, resp.Type)
	// Internal cause must not leak to the client.
	assert.Equal(t, "internal server error", resp.Error)
}

func TestMiddleware_EchoHTTPErrorPassesThrough(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	httpErr := echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	handler := Middleware()(func(c echo.Context) error { return httpErr })

	err := handler(c)
	assert.Equal(t, httpErr, err)
}

func TestWrapHTTPError_Mapping(t *testing.T) {
	assert.Equal(t, TypeValidation, WrapHTTPError(echo.NewHTTPError(400, "x")).Type)
	assert.Equal(t, TypeRateLimited, WrapHTTPError(echo.NewHTTPError(429, "x")).Type)
	assert.Equal(t, TypeUnavailable, WrapHTTPError(echo.NewHTTPError(503, "x")).Type)
	assert.Equal(t, TypeInternal, WrapHTTPError(echo.NewHTTPError(500, "x")).Type)
}

func assertAnError() error {
	return errPlain
}

var errPlain = &plainError{}

type plainError struct{}

func (*plainError) Error() string { return "database exploded" }
