package pages

import (
	"path/filepath"

	"github.com/labstack/echo/v4"
)

// Handler serves the two app pages the container loads in its frame.
type Handler struct {
	templates string
}

// NewHandler serves pages from templateDir.
func NewHandler(templateDir string) *Handler {
	return &Handler{templates: templateDir}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/index.html", h.AppsPage)
	g.GET("/index-apps.html", h.AppsPage)
	g.GET("/index-msg.html", h.MessagePage)
}

func (h *Handler) AppsPage(c echo.Context) error {
	return c.File(filepath.Join(h.templates, "index-apps.html"))
}

func (h *Handler) MessagePage(c echo.Context) error {
	return c.File(filepath.Join(h.templates, "index-msg.html"))
}
