package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func setenv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, k := range keys {
		os.Unsetenv(k)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.AppPath != "." {
		t.Errorf("expected default APP_PATH '.', got %s", cfg.AppPath)
	}
	if cfg.SMTPPort != 25 || cfg.SMTPPortAlt != 25 {
		t.Errorf("expected default SMTP ports 25, got %d/%d", cfg.SMTPPort, cfg.SMTPPortAlt)
	}
	if cfg.SMTPTLSPolicy != TLSOpportunistic {
		t.Errorf("expected opportunistic TLS, got %s", cfg.SMTPTLSPolicy)
	}
	if cfg.SmartConsumerSecret != "smartapp-secret" {
		t.Errorf("expected default consumer secret, got %s", cfg.SmartConsumerSecret)
	}
	if cfg.SmartTimeout != 20*time.Second {
		t.Errorf("expected 20s SMART timeout, got %s", cfg.SmartTimeout)
	}
	if cfg.SmartFetchAttempts != 3 {
		t.Errorf("expected 3 fetch attempts, got %d", cfg.SmartFetchAttempts)
	}
	if cfg.BodyLimit != "2M" {
		t.Errorf("expected body limit 2M, got %s", cfg.BodyLimit)
	}
	if cfg.RequestTimeout != time.Minute {
		t.Errorf("expected 60s request timeout, got %s", cfg.RequestTimeout)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	setenv(t, map[string]string{
		"SMTP_HOST":           "direct.example.org",
		"SMTP_USER":           "clinic",
		"SMTP_PASS":           "secret",
		"SMTP_PORT":           "587",
		"SMTP_TLS_POLICY":     "Mandatory",
		"SMART_DIRECT_PREFIX": "[SMART] ",
		"SMART_TIMEOUT":       "5s",
		"CORS_ORIGINS":        "http://a.example.org, http://b.example.org",
		"APP_PATH":            "/srv/direct",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SMTPPort != 587 {
		t.Errorf("SMTP_PORT = %d", cfg.SMTPPort)
	}
	if cfg.SMTPTLSPolicy != TLSMandatory {
		t.Errorf("SMTP_TLS_POLICY = %q, want normalized", cfg.SMTPTLSPolicy)
	}
	if cfg.SmartDirectPrefix != "[SMART] " {
		t.Errorf("SMART_DIRECT_PREFIX = %q", cfg.SmartDirectPrefix)
	}
	if cfg.SmartTimeout != 5*time.Second {
		t.Errorf("SMART_TIMEOUT = %s", cfg.SmartTimeout)
	}
	if strings.Join(cfg.CORSOrigins, "|") != "http://a.example.org|http://b.example.org" {
		t.Errorf("CORS_ORIGINS = %v", cfg.CORSOrigins)
	}
	if cfg.DataDir() != "/srv/direct/data" || cfg.TemplateDir() != "/srv/direct/templates" {
		t.Errorf("dirs = %s, %s", cfg.DataDir(), cfg.TemplateDir())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}

func TestConfig_Addresses(t *testing.T) {
	c := &Config{SMTPHost: "direct.example.org", SMTPUser: "clinic"}
	if c.PrimaryAddress() != "clinic@direct.example.org" {
		t.Errorf("PrimaryAddress = %s", c.PrimaryAddress())
	}
	if c.AlternateAddress() != "clinic@direct.example.org" {
		t.Errorf("AlternateAddress without alternate = %s", c.AlternateAddress())
	}

	c.SMTPHostAlt, c.SMTPUserAlt = "alt.example.org", "apps"
	if c.AlternateAddress() != "apps@alt.example.org" {
		t.Errorf("AlternateAddress = %s", c.AlternateAddress())
	}
}

func valid() Config {
	return Config{
		SMTPHost:           "direct.example.org",
		SMTPUser:           "clinic",
		SMTPPort:           25,
		SMTPPortAlt:        25,
		SMTPTLSPolicy:      TLSOpportunistic,
		SmartFetchAttempts: 3,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing host", func(c *Config) { c.SMTPHost = "" }, "SMTP_HOST"},
		{"missing user", func(c *Config) { c.SMTPUser = "" }, "SMTP_USER"},
		{"partial alternate", func(c *Config) { c.SMTPPassAlt = "x" }, "SMTP_HOST_ALT"},
		{"full alternate", func(c *Config) { c.SMTPHostAlt, c.SMTPUserAlt = "alt", "apps" }, ""},
		{"bad tls", func(c *Config) { c.SMTPTLSPolicy = "sometimes" }, "SMTP_TLS_POLICY"},
		{"bad port", func(c *Config) { c.SMTPPort = 0 }, "ports"},
		{"no attempts", func(c *Config) { c.SmartFetchAttempts = 0 }, "SMART_FETCH_ATTEMPTS"},
		{"proxy without key", func(c *Config) { c.ProxyAPIBase = "http://proxy" }, "PROXY_CONSUMER_KEY"},
		{"proxy with key", func(c *Config) { c.ProxyAPIBase, c.ProxyConsumerKey = "http://proxy", "k" }, ""},
		{"negative rate", func(c *Config) { c.SendRatePerMin = -1 }, "SEND_RATE_PER_MIN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
