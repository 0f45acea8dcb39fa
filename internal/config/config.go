// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration.
type Config struct {
	Addr      string `env:"ADDR" envDefault:":8080"`
	TLSDomain string `env:"TLS_DOMAIN"`
	DBPath    string `env:"DB_PATH" envDefault:"pricesync.db"`

	// Coupang Partners credentials. Upstream calls refuse to run without them.
	AccessKey string `env:"PARTNERS_ACCESS_KEY"`
	SecretKey string `env:"PARTNERS_SECRET_KEY"`

	// SyncSecret gates the scheduled-trigger endpoint. Empty disables it.
	SyncSecret string `env:"SYNC_SECRET"`
	// AdminKey gates the search/report endpoints. Empty leaves them open.
	AdminKey string `env:"ADMIN_KEY"`

	// SyncInterval > 0 also runs the pipeline on an internal ticker, in
	// addition to the external cron trigger.
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"0"`
	BatchDelay   time.Duration `env:"BATCH_DELAY" envDefault:"5s"`

	// RedisAddr switches the rate limiter to a shared Redis budget so
	// multiple instances do not each spend the full upstream quota.
	RedisAddr string `env:"REDIS_ADDR"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
