package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/smartdirect/direct/internal/config"
	"github.com/smartdirect/direct/internal/domain/catalog"
	"github.com/smartdirect/direct/internal/domain/direct"
	"github.com/smartdirect/direct/internal/domain/pages"
	"github.com/smartdirect/direct/internal/domain/records"
	"github.com/smartdirect/direct/internal/platform/middleware"
	"github.com/smartdirect/direct/internal/platform/notification"
	"github.com/smartdirect/direct/internal/platform/smart"
)

const version = "0.1.0"

func smartOptions(cfg *config.Config, logger zerolog.Logger) smart.Options {
	return smart.Options{
		ConsumerSecret: cfg.SmartConsumerSecret,
		Timeout:        cfg.SmartTimeout,
		Attempts:       uint(cfg.SmartFetchAttempts),
		Logger:         logger,
	}
}

// recordsConnector adapts the SMART client factory to records.Connector.
// A failed Connect must return a nil interface, not a typed nil client.
func recordsConnector(f *smart.Factory) records.Connector {
	return func(oauthHeader string) (records.Source, error) {
		c, err := f.Connect(oauthHeader)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func credentialCheck(oauthHeader string) error {
	_, err := smart.ParseOAuthHeader(oauthHeader)
	return err
}

func newCatalog(cfg *config.Config, logger zerolog.Logger) *catalog.Catalog {
	var remote catalog.ManifestSource
	if cfg.ProxyAPIBase != "" {
		remote = smart.NewManifestClient(cfg.ProxyAPIBase, cfg.ProxyConsumerKey, cfg.ProxyConsumerSecret, smartOptions(cfg, logger))
	}
	return catalog.New(cfg.DataDir(), remote)
}

func newServer(cfg *config.Config, sender notification.EmailSender, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.CORSOrigins))
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: corsOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	factory := smart.NewFactory(smartOptions(cfg, logger))
	connect := recordsConnector(factory)
	cat := newCatalog(cfg, logger)

	app := e.Group("/smartapp", middleware.RequestTimeout(cfg.RequestTimeout))

	pages.NewHandler(cfg.TemplateDir()).RegisterRoutes(app)
	catalog.NewHandler(cat, credentialCheck, logger).RegisterRoutes(app)
	records.NewHandler(records.NewService(), connect, logger).RegisterRoutes(app)

	accounts := direct.Accounts{
		Primary:       primaryAccount(cfg),
		Alternate:     alternateAccount(cfg),
		SubjectPrefix: cfg.SmartDirectPrefix,
	}
	directSvc := direct.NewService(accounts, cat, sender, logger)
	sendLimit := middleware.RateLimit(middleware.RateLimitConfig{
		PerMinute: cfg.SendRatePerMin,
		Burst:     cfg.SendBurst,
	})
	direct.NewHandler(directSvc, connect, logger).RegisterRoutes(app, sendLimit)

	return e
}
