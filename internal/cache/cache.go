package cache

import (
	"context"
	"time"
)

// Cache is a small string cache with per-key TTLs, used for short-lived
// provider credentials. Get reports a miss as an empty string, not an error.
type Cache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}
