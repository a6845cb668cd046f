package cache

import (
	"context"
	"time"
)

// Config holds configuration for cache creation.
type Config struct {
	// RedisURL selects the Redis backend when non-empty.
	RedisURL string

	// Prefix is the Redis key prefix.
	Prefix string

	// DefaultTTL is the default TTL for cache entries.
	DefaultTTL time.Duration

	// MaxSize bounds the memory cache entry count (0 = unlimited).
	MaxSize int

	// CleanupInterval is the expired-entry sweep interval.
	CleanupInterval time.Duration
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Prefix:          "onboardbot:",
		DefaultTTL:      time.Hour,
		MaxSize:         10000,
		CleanupInterval: time.Minute,
	}
}

// New creates a cache from the configuration: Redis when a URL is set,
// in-memory otherwise.
func New(ctx context.Context, cfg Config) (Cache, error) {
	if cfg.RedisURL != "" {
		return NewRedis(ctx, RedisOptions{
			URL:        cfg.RedisURL,
			Prefix:     cfg.Prefix,
			DefaultTTL: cfg.DefaultTTL,
		})
	}

	return NewMemory(MemoryOptions{
		DefaultTTL:      cfg.DefaultTTL,
		MaxSize:         cfg.MaxSize,
		CleanupInterval: cfg.CleanupInterval,
	}), nil
}

// NewWithTTL creates an in-memory cache with the given TTL and bounded
// capacity. Convenience for the session and access caches.
func NewWithTTL(ttl time.Duration, maxSize int) Cache {
	return NewMemory(MemoryOptions{
		DefaultTTL:      ttl,
		MaxSize:         maxSize,
		CleanupInterval: time.Minute,
	})
}
