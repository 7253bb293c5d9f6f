package app

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config holds runtime configuration for the service.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"30s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// PGDSN enables the durable journal. Empty keeps the ledger in memory.
	PGDSN string `envconfig:"PG_DSN"`
	// RedisAddr enables the reported-balance cache and background jobs.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	Workers            int           `envconfig:"CONSOL_WORKERS" default:"4"`
	ReconcileTolerance string        `envconfig:"CONSOL_RECONCILE_TOLERANCE" default:"0.01"`
	CacheTTL           time.Duration `envconfig:"CONSOL_CACHE_TTL" default:"5m"`
	ReportTTL          time.Duration `envconfig:"CONSOL_REPORT_TTL" default:"720h"`
	ExportLimit        int           `envconfig:"CONSOL_EXPORT_LIMIT" default:"10"`
	// Fixture seeds the group from a YAML document at startup.
	Fixture  string `envconfig:"CONSOL_FIXTURE"`
	Currency string `envconfig:"CONSOL_CURRENCY" default:"USD"`
	// Offline ignores PG_DSN and REDIS_ADDR and keeps everything in memory.
	Offline bool `envconfig:"CONSOL_TEST_MODE"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("CONSOL_WORKERS must be at least 1, got %d", cfg.Workers)
	}
	if _, err := cfg.Tolerance(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Tolerance parses the reconciliation tolerance.
func (c *Config) Tolerance() (decimal.Decimal, error) {
	tol, err := decimal.NewFromString(c.ReconcileTolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("CONSOL_RECONCILE_TOLERANCE: %w", err)
	}
	if tol.IsNegative() {
		return decimal.Zero, fmt.Errorf("CONSOL_RECONCILE_TOLERANCE must not be negative")
	}
	return tol, nil
}

// IsProduction returns true when the service runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
