// Package store provides the durable key-value surface behind the client-side
// message and history stores.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/studio-relay/internal/config"
)

var (
	// ErrNotFound is returned by Get when no value is stored under the key.
	ErrNotFound = errors.New("key not found")

	// ErrQuotaExceeded is returned by Set when the write would push the total
	// stored size above the configured quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// KV is a size-constrained durable key-value store.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value stored under key. It returns an error wrapping
	// ErrQuotaExceeded when the write does not fit.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Open constructs the backend selected by cfg.
func Open(cfg config.StoreConfig) (KV, error) {
	switch cfg.Backend {
	case config.StoreBackendSQLite:
		return NewSQLite(cfg.Path, cfg.QuotaBytes)
	case config.StoreBackendRedis:
		return NewRedis(cfg.RedisURL, cfg.QuotaBytes)
	case config.StoreBackendMemory:
		return NewMemory(cfg.QuotaBytes), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func quotaError(used, quota int64) error {
	return fmt.Errorf("%w: %d bytes needed, quota is %d", ErrQuotaExceeded, used, quota)
}
