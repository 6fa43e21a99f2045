package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

const redacted = "***REDACTED***"

// Load reads configuration from an optional YAML file overlaid by environment
// variables. The file path comes from MARKSYNC_CONFIG (fallback
// "./marksync.yaml"). A missing default file is not an error; a missing
// explicit file is.
func Load() (*Config, error) {
	var cfg Config

	path := os.Getenv("MARKSYNC_CONFIG")
	explicitPath := path != ""
	if !explicitPath {
		path = "./marksync.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	if cfg.Log.Level == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return &cfg, nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Redis.Password != "" {
		c.Redis.Password = redacted
	}
	if c.Redis.Username != "" {
		c.Redis.Username = redacted
	}
	if c.Postgres.DSN != "" {
		c.Postgres.DSN = redacted
	}
	if c.Auth.JWTSecret != "" {
		c.Auth.JWTSecret = redacted
	}
	return c
}

// OAuthProviders returns the configured provider names.
func (c *Config) OAuthProviders() []string {
	return splitAndTrim(c.Auth.Providers)
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
