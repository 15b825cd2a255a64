package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TLS policies for the SMTP relays.
const (
	TLSOpportunistic = "opportunistic"
	TLSMandatory     = "mandatory"
	TLSNone          = "none"
)

type Config struct {
	Port    string `mapstructure:"PORT"`
	Env     string `mapstructure:"ENV"`
	AppPath string `mapstructure:"APP_PATH"`

	// Primary direct account; all messages leave from here.
	SMTPHost string `mapstructure:"SMTP_HOST"`
	SMTPPort int    `mapstructure:"SMTP_PORT"`
	SMTPUser string `mapstructure:"SMTP_USER"`
	SMTPPass string `mapstructure:"SMTP_PASS"`

	// Alternate account for the first hop of app shares.
	SMTPHostAlt string `mapstructure:"SMTP_HOST_ALT"`
	SMTPPortAlt int    `mapstructure:"SMTP_PORT_ALT"`
	SMTPUserAlt string `mapstructure:"SMTP_USER_ALT"`
	SMTPPassAlt string `mapstructure:"SMTP_PASS_ALT"`

	SMTPTLSPolicy string        `mapstructure:"SMTP_TLS_POLICY"`
	SMTPTimeout   time.Duration `mapstructure:"SMTP_TIMEOUT"`

	SmartDirectPrefix   string        `mapstructure:"SMART_DIRECT_PREFIX"`
	SmartConsumerSecret string        `mapstructure:"SMART_CONSUMER_SECRET"`
	SmartTimeout        time.Duration `mapstructure:"SMART_TIMEOUT"`
	SmartFetchAttempts  int           `mapstructure:"SMART_FETCH_ATTEMPTS"`

	// Optional remote manifest source replacing data/apps.json.
	ProxyAPIBase        string `mapstructure:"PROXY_API_BASE"`
	ProxyConsumerKey    string `mapstructure:"PROXY_CONSUMER_KEY"`
	ProxyConsumerSecret string `mapstructure:"PROXY_CONSUMER_SECRET"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SendRatePerMin float64       `mapstructure:"SEND_RATE_PER_MIN"`
	SendBurst      int           `mapstructure:"SEND_BURST"`
}

var keys = []string{
	"PORT", "ENV", "APP_PATH",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS",
	"SMTP_HOST_ALT", "SMTP_PORT_ALT", "SMTP_USER_ALT", "SMTP_PASS_ALT",
	"SMTP_TLS_POLICY", "SMTP_TIMEOUT",
	"SMART_DIRECT_PREFIX", "SMART_CONSUMER_SECRET", "SMART_TIMEOUT", "SMART_FETCH_ATTEMPTS",
	"PROXY_API_BASE", "PROXY_CONSUMER_KEY", "PROXY_CONSUMER_SECRET",
	"CORS_ORIGINS", "BODY_LIMIT", "REQUEST_TIMEOUT", "SEND_RATE_PER_MIN", "SEND_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("APP_PATH", ".")
	v.SetDefault("SMTP_PORT", 25)
	v.SetDefault("SMTP_PORT_ALT", 25)
	v.SetDefault("SMTP_TLS_POLICY", TLSOpportunistic)
	v.SetDefault("SMTP_TIMEOUT", "30s")
	v.SetDefault("SMART_CONSUMER_SECRET", "smartapp-secret")
	v.SetDefault("SMART_TIMEOUT", "20s")
	v.SetDefault("SMART_FETCH_ATTEMPTS", 3)
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("SEND_RATE_PER_MIN", 10)
	v.SetDefault("SEND_BURST", 5)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	cfg.SMTPTLSPolicy = strings.ToLower(strings.TrimSpace(cfg.SMTPTLSPolicy))
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// PrimaryAddress is the direct address messages are sent from.
func (c *Config) PrimaryAddress() string {
	return c.SMTPUser + "@" + c.SMTPHost
}

// AlternateAddress is the sender of the first hop of an app share. It is
// the primary address when no alternate account is configured.
func (c *Config) AlternateAddress() string {
	if !c.HasAlternate() {
		return c.PrimaryAddress()
	}
	return c.SMTPUserAlt + "@" + c.SMTPHostAlt
}

// HasAlternate reports whether any alternate account key is set.
func (c *Config) HasAlternate() bool {
	return c.SMTPHostAlt != "" || c.SMTPUserAlt != "" || c.SMTPPassAlt != ""
}

func (c *Config) TemplateDir() string { return filepath.Join(c.AppPath, "templates") }
func (c *Config) DataDir() string     { return filepath.Join(c.AppPath, "data") }

// Validate reports the first setting that would keep the service from
// sending mail or reaching the container.
func (c *Config) Validate() error {
	if c.SMTPHost == "" || c.SMTPUser == "" {
		return fmt.Errorf("SMTP_HOST and SMTP_USER are required for the primary direct account")
	}
	if c.HasAlternate() && (c.SMTPHostAlt == "" || c.SMTPUserAlt == "") {
		return fmt.Errorf("SMTP_HOST_ALT and SMTP_USER_ALT must both be set when an alternate account is configured")
	}
	switch c.SMTPTLSPolicy {
	case TLSOpportunistic, TLSMandatory, TLSNone:
	default:
		return fmt.Errorf("SMTP_TLS_POLICY must be %q, %q or %q, got %q",
			TLSOpportunistic, TLSMandatory, TLSNone, c.SMTPTLSPolicy)
	}
	if c.SMTPPort <= 0 || c.SMTPPortAlt <= 0 {
		return fmt.Errorf("SMTP ports must be positive")
	}
	if c.SmartFetchAttempts < 1 {
		return fmt.Errorf("SMART_FETCH_ATTEMPTS must be at least 1, got %d", c.SmartFetchAttempts)
	}
	if c.ProxyAPIBase != "" && c.ProxyConsumerKey == "" {
		return fmt.Errorf("PROXY_CONSUMER_KEY is required when PROXY_API_BASE is set")
	}
	if c.SendRatePerMin < 0 {
		return fmt.Errorf("SEND_RATE_PER_MIN must not be negative")
	}
	return nil
}
