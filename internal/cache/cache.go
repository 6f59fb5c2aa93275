package cache

import (
	"context"
	"time"
)

// Cache is the key-value store behind the settlement exactly-once registry.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration)
	// Add stores value only if key is absent and reports whether it did.
	Add(ctx context.Context, key string, value interface{}, expiration time.Duration) bool
	Delete(ctx context.Context, key string)
	DeleteByPrefix(ctx context.Context, prefix string)
	Flush(ctx context.Context)
}
