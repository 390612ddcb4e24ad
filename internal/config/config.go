// Package config loads clubbill configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the reconciliation CLI. It is
// constructed once in main and passed into constructors explicitly;
// there are no process-wide mutable settings.
type Config struct {
	StripeAPIKey string
	DataDir      string // audit database location
	LogLevel     string // "debug", "info", "warn", "error"
	LogFormat    string // "json", "console", or "auto"
	AnchorDay    int    // default target billing day-of-month (1-28)
}

// AuditDir returns the directory for the run audit database.
func (c *Config) AuditDir() string {
	return filepath.Join(c.DataDir, "audit")
}

// Load reads configuration from environment variables. A .env file is
// loaded if present but not required.
func Load() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	anchorDay, err := envOrDefaultInt("CLUBBILL_ANCHOR_DAY", 1)
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(os.Getenv("CLUBBILL_STRIPE_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))
	}

	cfg := &Config{
		StripeAPIKey: apiKey,
		DataDir:      envOrDefault("CLUBBILL_DATA_DIR", "data"),
		LogLevel:     envOrDefault("CLUBBILL_LOG_LEVEL", "info"),
		LogFormat:    envOrDefault("CLUBBILL_LOG_FORMAT", "auto"),
		AnchorDay:    anchorDay,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.StripeAPIKey == "" {
		missing = append(missing, "CLUBBILL_STRIPE_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.AnchorDay < 1 || c.AnchorDay > 28 {
		return fmt.Errorf("CLUBBILL_ANCHOR_DAY must be between 1 and 28, got %d", c.AnchorDay)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}
