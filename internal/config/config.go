// Package config loads and validates Postwing's runtime configuration
// from environment variables. Startup is fatal when a required value is
// missing or the encryption secret is too short.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// MinEncryptionKeyBytes is the minimum length of the at-rest encryption
// secret. Shorter secrets are rejected at startup.
const MinEncryptionKeyBytes = 32

// Config holds all runtime configuration for the Postwing server.
type Config struct {
	// HTTP server
	Port      string `env:"PORT" envDefault:"8080"`
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`

	// PostgreSQL
	DatabaseURL string `env:"DATABASE_URL,required"`

	// OAuth client identity. ClientID is the public metadata URL.
	ClientID     string `env:"CLIENT_ID,required"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURI  string `env:"REDIRECT_URI"`
	Scope        string `env:"SCOPE" envDefault:"atproto transition:generic"`

	// Network endpoints
	PDSURL        string `env:"PDS_URL" envDefault:"https://bsky.social"`
	AuthEndpoint  string `env:"AUTH_ENDPOINT" envDefault:"https://bsky.social/oauth/authorize"`
	TokenEndpoint string `env:"TOKEN_ENDPOINT" envDefault:"https://bsky.social/oauth/token"`

	// Secrets
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`
	CookieSecret  string `env:"COOKIE_SECRET,required"`

	// Dispatcher tuning
	TickInterval     time.Duration `env:"TICK_INTERVAL" envDefault:"60s"`
	BatchSize        int           `env:"BATCH_SIZE" envDefault:"100"`
	SubBatchSize     int           `env:"SUB_BATCH_SIZE" envDefault:"10"`
	ShutdownDeadline time.Duration `env:"SHUTDOWN_DEADLINE" envDefault:"30s"`
}

// Load parses environment variables into a Config and validates the
// values the rest of the system depends on.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment: %w", err)
	}

	if len(cfg.EncryptionKey) < MinEncryptionKeyBytes {
		return nil, fmt.Errorf("config: ENCRYPTION_KEY must be at least %d bytes, got %d",
			MinEncryptionKeyBytes, len(cfg.EncryptionKey))
	}

	if cfg.RedirectURI == "" {
		cfg.RedirectURI = cfg.PublicURL + "/auth/callback"
	}

	return cfg, nil
}
