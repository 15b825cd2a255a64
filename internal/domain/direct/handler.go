package direct

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/smartdirect/direct/internal/domain/catalog"
	"github.com/smartdirect/direct/internal/domain/records"
	"github.com/smartdirect/direct/internal/platform/apierr"
)

// ErrMissingField is returned when a required form field is absent.
var ErrMissingField = apierr.New(http.StatusBadRequest, "missing form field")

type Handler struct {
	svc     *Service
	connect records.Connector
	logger  zerolog.Logger
}

func NewHandler(svc *Service, connect records.Connector, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, connect: connect, logger: logger}
}

// RegisterRoutes mounts the send endpoints. m wraps only these routes,
// e.g. to throttle outbound mail.
func (h *Handler) RegisterRoutes(g *echo.Group, m ...echo.MiddlewareFunc) {
	g.POST("/sendmail-msg", h.SendMessage, m...)
	g.POST("/sendmail-apps", h.SendApps, m...)
}

type result struct {
	Result string `json:"result"`
}

// fields returns the named form values, failing on the first one missing.
func fields(c echo.Context, names ...string) (map[string]string, error) {
	params, err := c.FormParams()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingField, err)
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		v, ok := params[n]
		if !ok || len(v) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, n)
		}
		out[n] = v[0]
	}
	return out, nil
}

func (h *Handler) SendMessage(c echo.Context) error {
	if _, err := h.connect(c.FormValue("oauth_header")); err != nil {
		return apierr.HTTP(err)
	}
	f, err := fields(c, "recipient_email", "subject", "message")
	if err != nil {
		return apierr.HTTP(err)
	}

	err = h.svc.SendMessage(c.Request().Context(), MessageRequest{
		Recipient: f["recipient_email"],
		Subject:   f["subject"],
		Message:   f["message"],
	})
	if err != nil {
		h.logger.Error().Err(err).Str("to", f["recipient_email"]).Msg("send direct message")
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, result{Result: "ok"})
}

func (h *Handler) SendApps(c echo.Context) error {
	src, err := h.connect(c.FormValue("oauth_header"))
	if err != nil {
		return apierr.HTTP(err)
	}
	f, err := fields(c, "sender_email", "recipient_email", "subject", "message", "apps")
	if err != nil {
		return apierr.HTTP(err)
	}

	err = h.svc.SendApps(c.Request().Context(), src, AppsRequest{
		Sender:    f["sender_email"],
		Recipient: f["recipient_email"],
		Subject:   f["subject"],
		Message:   f["message"],
		AppIDs:    catalog.ParseIDs(f["apps"]),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("apps", f["apps"]).Msg("send app share")
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, result{Result: "ok"})
}
