package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets response hardening headers. The app pages run
// inside the SMART container's frame, so framing is limited to
// frameAncestors rather than denied; with no ancestors any origin may
// frame them.
func SecurityHeaders(frameAncestors []string) echo.MiddlewareFunc {
	ancestors := "*"
	if len(frameAncestors) > 0 {
		ancestors = strings.Join(frameAncestors, " ")
	}
	csp := "frame-ancestors " + ancestors

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Content-Security-Policy", csp)
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// Record data and recipients must not linger in shared caches.
			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}
