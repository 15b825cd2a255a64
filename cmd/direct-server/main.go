package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/smartdirect/direct/internal/config"
	"github.com/smartdirect/direct/internal/domain/catalog"
	"github.com/smartdirect/direct/internal/platform/notification"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "direct-server",
		Short: "SMART Direct Apps backend",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(appsCmd())
	root.AddCommand(checkConfigCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the direct apps API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func appsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List the app catalog with the record data each app needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cat := newCatalog(cfg, zerolog.Nop())
			raw, err := cat.AppsJSON(cmd.Context())
			if err != nil {
				return err
			}
			return printApps(cmd.OutOrStdout(), raw)
		},
	}
}

func printApps(w io.Writer, raw []byte) error {
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("%w: apps.json is not valid JSON", catalog.ErrInvalidCatalog)
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "APIs"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	gjson.ParseBytes(raw).ForEach(func(_, app gjson.Result) bool {
		var apis []string
		for _, a := range app.Get("apis").Array() {
			apis = append(apis, a.String())
		}
		table.Append([]string{app.Get("id").String(), app.Get("name").String(), strings.Join(apis, ", ")})
		return true
	})
	table.Render()
	return nil
}

func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the environment and print the resolved direct accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "primary:   %s via %s:%d\n", cfg.PrimaryAddress(), cfg.SMTPHost, cfg.SMTPPort)
			alt := alternateAccount(cfg)
			fmt.Fprintf(out, "alternate: %s via %s:%d\n", cfg.AlternateAddress(), alt.Host, alt.Port)
			fmt.Fprintf(out, "tls:       %s\n", cfg.SMTPTLSPolicy)
			if cfg.ProxyAPIBase != "" {
				fmt.Fprintf(out, "manifests: %s/apps/manifests/\n", cfg.ProxyAPIBase)
			} else {
				fmt.Fprintf(out, "manifests: %s\n", cfg.DataDir())
			}
			return nil
		},
	}
}

func primaryAccount(cfg *config.Config) notification.SMTPAccount {
	return notification.SMTPAccount{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		User:      cfg.SMTPUser,
		Password:  cfg.SMTPPass,
		TLSPolicy: cfg.SMTPTLSPolicy,
	}
}

// alternateAccount falls back to the primary account when no alternate is
// configured.
func alternateAccount(cfg *config.Config) notification.SMTPAccount {
	if !cfg.HasAlternate() {
		return primaryAccount(cfg)
	}
	return notification.SMTPAccount{
		Host:      cfg.SMTPHostAlt,
		Port:      cfg.SMTPPortAlt,
		User:      cfg.SMTPUserAlt,
		Password:  cfg.SMTPPassAlt,
		TLSPolicy: cfg.SMTPTLSPolicy,
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("running in development mode")
	}

	sender := notification.NewSMTPSender(cfg.SMTPTimeout, logger)
	e := newServer(cfg, sender, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().
			Str("addr", addr).
			Str("primary", cfg.PrimaryAddress()).
			Str("alternate", cfg.AlternateAddress()).
			Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
