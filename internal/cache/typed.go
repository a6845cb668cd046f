package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Typed provides type-safe caching on top of a byte Cache using JSON
// serialization.
type Typed[T any] struct {
	cache      Cache
	defaultTTL time.Duration
}

// NewTyped creates a Typed cache wrapping the given backend.
func NewTyped[T any](cache Cache, defaultTTL time.Duration) *Typed[T] {
	return &Typed[T]{cache: cache, defaultTTL: defaultTTL}
}

// Get retrieves a value. Returns the value and true if found.
func (c *Typed[T]) Get(ctx context.Context, key string) (*T, bool) {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false
	}
	return &value, true
}

// Set stores a value with the default TTL.
func (c *Typed[T]) Set(ctx context.Context, key string, value *T) error {
	return c.SetWithTTL(ctx, key, value, c.defaultTTL)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Typed[T]) SetWithTTL(ctx context.Context, key string, value *T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.cache.Set(ctx, key, data, ttl)
}

// Delete removes a key.
func (c *Typed[T]) Delete(ctx context.Context, key string) error {
	return c.cache.Delete(ctx, key)
}

// GetOrSet retrieves a value, or computes and stores it on a miss.
func (c *Typed[T]) GetOrSet(ctx context.Context, key string, fn func() (*T, error)) (*T, error) {
	if value, ok := c.Get(ctx, key); ok {
		return value, nil
	}

	value, err := fn()
	if err != nil {
		return nil, err
	}

	// Value is still valid even if caching it fails.
	_ = c.SetWithTTL(ctx, key, value, c.defaultTTL)
	return value, nil
}
