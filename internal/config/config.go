// Package config loads process-wide configuration for the reference
// host binary from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the reference host's process configuration. The ingestion
// core itself (internal/ingest, internal/idle, ...) never reads this
// type directly; it takes plain durations and provider credentials
// through constructor arguments so it stays host-agnostic.
type Config struct {
	// Telegram (reference ChatSink + admin tool surface)
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN,required"`

	// Storage
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/mailcore.db"`

	// IMAP / IDLE tuning (spec.md §4.C2, §4.C3)
	IMAPDialTimeout    time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	IMAPGreetTimeout   time.Duration `env:"IMAP_GREETING_TIMEOUT" envDefault:"30s"`
	IdleRefreshEvery   time.Duration `env:"IDLE_REFRESH_INTERVAL" envDefault:"25m"`
	IdleBackoffWait    time.Duration `env:"IDLE_BACKOFF_WAIT" envDefault:"5s"`
	IdleMaxReconnects  int           `env:"IDLE_MAX_RECONNECTS" envDefault:"5"`
	FetchLimit         uint32        `env:"FETCH_LIMIT" envDefault:"50"`

	// Poll fallback (spec.md §4.C8)
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5m"`

	// Token refresh loop (spec.md §4.C4)
	TokenRefreshEvery time.Duration `env:"TOKEN_REFRESH_INTERVAL" envDefault:"30m"`

	// OAuth2 device grant (spec.md §4.C7)
	GmailClientID       string `env:"GMAIL_CLIENT_ID"`
	GmailClientSecret   string `env:"GMAIL_CLIENT_SECRET"`
	OutlookClientID     string `env:"OUTLOOK_CLIENT_ID"`
	OutlookTenant       string `env:"OUTLOOK_TENANT" envDefault:"common"`

	// Mailcow integration (optional, expansion — self-hosted generic IMAP)
	MailcowURL    string `env:"MAILCOW_URL"`
	MailcowAPIKey string `env:"MAILCOW_API_KEY"`
	MailcowDomain string `env:"MAILCOW_DOMAIN"`

	// Secret vault
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// MailcowEnabled reports whether the optional Mailcow provisioning
// integration is fully configured.
func (c *Config) MailcowEnabled() bool {
	return c.MailcowURL != "" && c.MailcowAPIKey != "" && c.MailcowDomain != ""
}

// GmailEnabled reports whether Gmail's OAuth2 device grant can be used.
func (c *Config) GmailEnabled() bool {
	return c.GmailClientID != "" && c.GmailClientSecret != ""
}

// OutlookEnabled reports whether Outlook's OAuth2 device grant can be used.
func (c *Config) OutlookEnabled() bool {
	return c.OutlookClientID != ""
}

// Load reads configuration from the environment, loading a local .env
// file first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(cfg.EncryptionKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(cfg.EncryptionKey))
	}

	return cfg, nil
}
