package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port         string `envconfig:"PORT" default:"8080"`
	Env          string `envconfig:"ENV" default:"development"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"panel.db"`
	JWTSecret    string `envconfig:"JWT_SECRET" default:"panel-dev-secret"`

	// SyncInterval is the reconciliation tick cadence. It doubles as the
	// only retry-pacing knob for orders stuck on a failing provider.
	SyncInterval time.Duration `envconfig:"SYNC_INTERVAL" default:"2m"`

	// Provider call timeouts: short for the high-frequency status and
	// balance checks, longer for placement and catalog fetches.
	ProviderStatusTimeout  time.Duration `envconfig:"PROVIDER_STATUS_TIMEOUT" default:"15s"`
	ProviderRequestTimeout time.Duration `envconfig:"PROVIDER_REQUEST_TIMEOUT" default:"30s"`
}

func Load() (*Config, error) {
	// A missing .env file is fine; plain environment variables still apply.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
