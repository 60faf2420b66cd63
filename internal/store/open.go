package store

import (
	"context"
	"fmt"

	"github.com/rafaeljc/apptentivekit/internal/cache"
	"github.com/rafaeljc/apptentivekit/internal/config"
)

// Open builds the backend selected by cfg.Storage.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendRedis:
		client, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, cfg.Storage.KeyPrefix), nil
	case config.StorageBackendSQLite, "":
		return NewSQLiteStore(cfg.Storage.DatabasePath())
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Checker adapts a Store to observability.Checker.
type Checker struct {
	Store Store
}

// Name returns the backend name.
func (c Checker) Name() string { return c.Store.Name() }

// Check pings the backend.
func (c Checker) Check(ctx context.Context) error { return c.Store.Ping(ctx) }
