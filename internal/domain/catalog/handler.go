package catalog

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/smartdirect/direct/internal/platform/apierr"
)

// CredentialCheck validates the container's oauth_header form value.
type CredentialCheck func(oauthHeader string) error

type Handler struct {
	catalog *Catalog
	check   CredentialCheck
	logger  zerolog.Logger
}

func NewHandler(c *Catalog, check CredentialCheck, logger zerolog.Logger) *Handler {
	return &Handler{catalog: c, check: check, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/getapps", h.GetApps)
	g.GET("/getrecipients", h.GetRecipients)
}

// GetApps returns the app manifests once the caller's credentials parse.
func (h *Handler) GetApps(c echo.Context) error {
	if err := h.check(c.FormValue("oauth_header")); err != nil {
		return apierr.HTTP(err)
	}
	body, err := h.catalog.AppsJSON(c.Request().Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("load app manifests")
		return apierr.HTTP(err)
	}
	return c.JSONBlob(http.StatusOK, body)
}

func (h *Handler) GetRecipients(c echo.Context) error {
	if err := h.check(c.FormValue("oauth_header")); err != nil {
		return apierr.HTTP(err)
	}
	body, err := h.catalog.RecipientsJSON(c.Request().Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("load recipients")
		return apierr.HTTP(err)
	}
	return c.JSONBlob(http.StatusOK, body)
}
