package errors

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPErrorsTotal tracks HTTP errors by type
	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total HTTP errors by error type",
		},
		[]string{"type"},
	)
)

// Middleware returns an Echo middleware that handles structured errors.
// It catches errors returned by handlers and converts them to appropriate HTTP responses.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			// Echo HTTPErrors (from built-in middleware like the rate
			// limiter) pass through unchanged to preserve their status code.
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				structuredErr := WrapHTTPError(httpErr)
				HTTPErrorsTotal.WithLabelValues(string(structuredErr.Type)).Inc()
				return err
			}

			structuredErr := AsStructuredError(err)
			HTTPErrorsTotal.WithLabelValues(string(structuredErr.Type)).Inc()
			logError(c, structuredErr)

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

// WrapHTTPError converts an echo.HTTPError into a structured Error for metrics.
func WrapHTTPError(httpErr *echo.HTTPError) *Error {
	var errType ErrorType
	switch httpErr.Code {
	case 400:
		errType = TypeValidation
	case 404:
		errType = TypeNotFound
	case 409:
		errType = TypeConflict
	case 429:
		errType = TypeRateLimited
	case 503:
		errType = TypeUnavailable
	case 502:
		errType = TypeExternal
	default:
		errType = TypeInternal
	}
	return &Error{Type: errType, Message: fmt.Sprintf("%v", httpErr.Message)}
}

// logError logs an error with request context.
func logError(c echo.Context, err *Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	if requestID := c.Response().Header().Get(echo.HeaderXRequestID); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}

	switch err.Type {
	case TypeValidation, TypeNotFound, TypeRateLimited:
		slog.Info("Request rejected", attrs...)
	case TypeConflict:
		slog.Warn("Conflict", attrs...)
	case TypeUnavailable, TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.Error("Dependency error", attrs...)
	default:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.Error("Internal error", attrs...)
	}
}
