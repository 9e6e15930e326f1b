package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	DBDriver string `env:"DB_DRIVER" envDefault:"libsql"`
	DBPath   string `env:"DB_PATH" envDefault:"data/questhunt.db"`
	RedisURL string `env:"REDIS_URL"`

	// AdminKeyHash is a bcrypt hash of the key expected in X-Admin-Key.
	// Empty disables the admin API.
	AdminKeyHash string `env:"ADMIN_KEY_HASH"`

	CluePrice              int           `env:"CLUE_PRICE" envDefault:"50"`
	CompassToleranceMeters float64       `env:"COMPASS_TOLERANCE_METERS" envDefault:"5"`
	AtomicRetries          int           `env:"ATOMIC_RETRIES" envDefault:"5"`
	LocationPollInterval   time.Duration `env:"LOCATION_POLL_INTERVAL" envDefault:"5s"`

	SPADir string `env:"SPA_DIR"`

	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DBDriver != "libsql" && c.DBDriver != "sqlite":
		return fmt.Errorf("DB_DRIVER must be libsql or sqlite, got %q", c.DBDriver)
	case c.CluePrice < 0:
		return fmt.Errorf("CLUE_PRICE must not be negative")
	case c.CompassToleranceMeters < 0:
		return fmt.Errorf("COMPASS_TOLERANCE_METERS must not be negative")
	case c.AtomicRetries < 1:
		return fmt.Errorf("ATOMIC_RETRIES must be at least 1")
	case c.LocationPollInterval <= 0:
		return fmt.Errorf("LOCATION_POLL_INTERVAL must be positive")
	}
	return nil
}
