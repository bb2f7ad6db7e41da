package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName   string `env:"APP_NAME, default=ExpenseTracker"`
	Env       string `env:"APP_ENV, default=development"`
	Port      string `env:"PORT, default=8080"`
	LogLevel  string `env:"LOG_LEVEL, default=info"`
	LogFormat string `env:"LOG_FORMAT, default=json"`

	DatabaseURL    string `env:"DATABASE_URL"`
	RedisURL       string `env:"REDIS_URL"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START, default=true"`

	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT, default=10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL, default=24h"`

	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL, default=720h"`

	// PinAttemptsPerMinute caps completed PIN entries per device. Zero disables the limit.
	PinAttemptsPerMinute int `env:"PIN_ATTEMPTS_PER_MINUTE, default=0"`
}

const devSessionSecret = "development-only-session-secret"

// Load reads configuration values from the environment and populates a Config instance.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if cfg.PinAttemptsPerMinute < 0 {
		return Config{}, fmt.Errorf("PIN_ATTEMPTS_PER_MINUTE must not be negative")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("SESSION_TTL must be positive")
	}

	if cfg.IsDev() {
		if cfg.SessionSecret == "" {
			cfg.SessionSecret = devSessionSecret
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.Env)
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.Env)
	}
	if cfg.SessionSecret == "" {
		return Config{}, fmt.Errorf("SESSION_SECRET must be set when APP_ENV=%s", cfg.Env)
	}

	return cfg, nil
}

// IsDev reports whether the service runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
