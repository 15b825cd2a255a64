package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// ErrRequestTimeout is returned when a request outlives its deadline.
var ErrRequestTimeout = echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")

// RequestTimeout bounds the whole request, including every container fetch
// and the SMTP hand-off it makes. The handler runs on the calling goroutine
// and sees the deadline through the request context. A request that fails
// after running out of time gets a 504. A non-positive timeout disables the
// middleware.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	if timeout <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Timeout:      timeout,
		ErrorHandler: timeoutError,
	})
}

func timeoutError(err error, c echo.Context) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrRequestTimeout.WithInternal(err)
	}
	// Upstream failures caused by the deadline often lose the context error
	// in their chain.
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code >= http.StatusInternalServerError &&
		errors.Is(c.Request().Context().Err(), context.DeadlineExceeded) {
		return ErrRequestTimeout.WithInternal(err)
	}
	return err
}
