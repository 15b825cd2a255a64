package records

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/smartdirect/direct/internal/platform/apierr"
)

type Handler struct {
	svc     *Service
	connect Connector
	logger  zerolog.Logger
}

func NewHandler(svc *Service, connect Connector, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, connect: connect, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/getmeds", h.GetMedications)
	g.GET("/getproblems", h.GetProblems)
	g.GET("/getdemographics", h.GetDemographics)
	g.GET("/getuser", h.GetUser)
}

func (h *Handler) source(c echo.Context) (Source, error) {
	src, err := h.connect(c.FormValue("oauth_header"))
	if err != nil {
		return nil, apierr.HTTP(err)
	}
	return src, nil
}

func (h *Handler) fail(c echo.Context, op string, err error) error {
	h.logger.Error().Err(err).
		Str("op", op).
		Str("request_id", requestID(c)).
		Msg("records request failed")
	return apierr.HTTP(err)
}

func requestID(c echo.Context) string {
	rid, _ := c.Get("request_id").(string)
	return rid
}

func (h *Handler) GetMedications(c echo.Context) error {
	src, err := h.source(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Medications(c.Request().Context(), src)
	if err != nil {
		return h.fail(c, "medications", err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetProblems(c echo.Context) error {
	src, err := h.source(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Problems(c.Request().Context(), src)
	if err != nil {
		return h.fail(c, "problems", err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetDemographics(c echo.Context) error {
	src, err := h.source(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Demographics(c.Request().Context(), src)
	if err != nil {
		return h.fail(c, "demographics", err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) GetUser(c echo.Context) error {
	src, err := h.source(c)
	if err != nil {
		return err
	}
	out, err := h.svc.User(c.Request().Context(), src)
	if err != nil {
		return h.fail(c, "user", err)
	}
	return c.JSON(http.StatusOK, out)
}
