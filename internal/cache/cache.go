// Package cache provides the byte caches used for immutable revisions and
// filter pages.
//
// Backends:
//   - memory (patrickmn/go-cache, per process)
//   - redis (shared by every replica)
package cache

import (
	"context"
	"fmt"
	"time"
)

type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value. ttl 0 uses the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
	Close() error
}

// Inspector lists what a cache holds. Used by the read-only cache API.
type Inspector interface {
	// Keys returns the keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Contains(ctx context.Context, key string) (bool, error)
}

// Config selects and tunes a backend.
type Config struct {
	Driver     string // "memory" | "redis" | "none"
	DefaultTTL time.Duration
	Prefix     string
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error { return nil }
func (Nop) DeletePrefix(context.Context, string) error { return nil }
func (Nop) Ping(context.Context) error { return nil }
func (Nop) Close() error { return nil }
func (Nop) Keys(context.Context, string) ([]string, error) { return []string{}, nil }
func (Nop) Contains(context.Context, string) (bool, error) { return false, nil }

var (
	_ Inspector = Nop{}
	_ Inspector = (*Memory)(nil)
	_ Inspector = (*Redis)(nil)
)

// New builds the configured cache. The redis client is only used by the
// redis driver and may be nil otherwise.
func New(cfg Config, rdb RedisClient) (Cache, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemory(cfg.DefaultTTL), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("cache: redis driver without redis client")
		}
		return NewRedis(rdb, cfg.Prefix, cfg.DefaultTTL), nil
	case "none":
		return Nop{}, nil
	}
	return nil, fmt.Errorf("cache: unknown driver %q", cfg.Driver)
}
