// Package apierr maps service errors onto HTTP responses.
package apierr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// StatusCoder is implemented by errors that know which HTTP status they
// should surface as.
type StatusCoder interface {
	HTTPStatus() int
}

// Error is a sentinel error carrying an HTTP status. Wrap it with
// fmt.Errorf("...: %w", err) to add context; errors.Is still matches.
type Error struct {
	Status int
	Msg    string
}

// New creates a status-carrying sentinel error.
func New(status int, msg string) *Error {
	return &Error{Status: status, Msg: msg}
}

func (e *Error) Error() string { return e.Msg }

// HTTPStatus implements StatusCoder.
func (e *Error) HTTPStatus() int { return e.Status }

// Status returns the HTTP status for err. Errors that carry no status are
// internal errors.
func Status(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// HTTP converts err into an echo.HTTPError. Internal errors are reported
// with a generic message so upstream details do not leak to the browser.
func HTTP(err error) *echo.HTTPError {
	status := Status(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error()).SetInternal(err)
}
