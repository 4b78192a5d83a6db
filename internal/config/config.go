package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every setting the server reads from the environment.
type Config struct {
	HTTPAddr     string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseDSN  string `env:"DB_DSN"`
	JWTSecret    string `env:"JWT_SECRET"`
	RedisAddr    string `env:"REDIS_ADDR"`
	ClientURL    string `env:"CLIENT_URL"`
	Environment  string `env:"APP_ENV" envDefault:"production"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	GracePeriod  time.Duration `env:"PRESENCE_GRACE_PERIOD" envDefault:"5s"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	TokenTTL     time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
}

// Load parses the environment and validates required settings.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first missing or malformed setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return errors.New("DB_DSN is not set")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("PRESENCE_GRACE_PERIOD must be positive, got %s", c.GracePeriod)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	return nil
}

// Development reports whether invariant violations should crash the process.
func (c Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
