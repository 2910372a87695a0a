package repository

import (
	"context"
	"time"
)

// PageCacheRepository stores fetched page bodies for a limited time.
type PageCacheRepository interface {
	// Get returns the cached body and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores body under key with the given expiry.
	Set(ctx context.Context, key string, body []byte, expiry time.Duration) error
}
