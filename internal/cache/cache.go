// Package cache holds registry and geocoder responses so repeated lookups
// skip the rate-limited upstream.
package cache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-trust/internal/config"
)

// Cache is a byte-valued TTL cache keyed by string.
type Cache interface {
	// Get returns the value and true on a hit. A miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores val for ttl. A non-positive ttl stores nothing.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Close() error
}

// Open builds the backend selected by cfg.Driver: "memory", "redis" or "none".
func Open(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, cfg.RedisURL)
	case "none":
		return Nop{}, nil
	default:
		return nil, eris.Errorf("cache: unsupported driver %q", cfg.Driver)
	}
}

// Nop never stores anything.
type Nop struct{}

// Get always misses.
func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set discards the value.
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }

// Close is a no-op.
func (Nop) Close() error { return nil }
