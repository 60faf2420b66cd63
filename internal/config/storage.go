package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Storage backends for the durable payload queue and snapshots.
const (
	StorageBackendSQLite = "sqlite"
	StorageBackendRedis  = "redis"
)

// StorageConfig selects where the queue, conversation and manifest live.
type StorageConfig struct {
	Backend   string `envconfig:"BACKEND" default:"sqlite" validate:"oneof=sqlite redis"`
	Dir       string `envconfig:"DIR" default:".apptentive"`
	KeyPrefix string `envconfig:"KEY_PREFIX" default:"apptentive"`
}

// DatabasePath returns the SQLite database file inside Dir.
func (c *StorageConfig) DatabasePath() string {
	return filepath.Join(c.Dir, "apptentive.db")
}

// Validate checks StorageConfig fields for correctness.
func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case StorageBackendSQLite:
		if c.Dir == "" {
			return fmt.Errorf("storage dir cannot be empty for the sqlite backend")
		}
	case StorageBackendRedis:
		if err := validateNoWhitespace(c.KeyPrefix, "storage key prefix"); err != nil {
			return err
		}
	}
	return nil
}

// SenderConfig tunes the payload retry schedule.
type SenderConfig struct {
	BaseBackoff  time.Duration `envconfig:"BASE_BACKOFF" default:"1s" validate:"gt=0"`
	MaxBackoff   time.Duration `envconfig:"MAX_BACKOFF" default:"5m" validate:"gt=0"`
	Multiplier   float64       `envconfig:"MULTIPLIER" default:"2" validate:"gte=1"`
	Jitter       float64       `envconfig:"JITTER" default:"0.2" validate:"gte=0,lte=1"`
	IdleInterval time.Duration `envconfig:"IDLE_INTERVAL" default:"30s" validate:"gt=0"`
}

// Validate checks SenderConfig fields for correctness.
func (c *SenderConfig) Validate() error {
	if c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("sender max_backoff (%s) cannot be lower than base_backoff (%s)", c.MaxBackoff, c.BaseBackoff)
	}
	return nil
}

// ManifestConfig tunes manifest caching.
type ManifestConfig struct {
	// MinExpiry floors the Cache-Control max-age of fetched manifests.
	MinExpiry     time.Duration `envconfig:"MIN_EXPIRY" default:"600s" validate:"gt=0"`
	CacheCapacity int           `envconfig:"CACHE_CAPACITY" default:"64" validate:"min=1"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"24h" validate:"gt=0"`
}
