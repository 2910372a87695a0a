package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/booksource-service/internal/repository"
)

// PageCacheRepoImpl provides a concrete implementation for the PageCacheRepository interface using Redis strings.
type PageCacheRepoImpl struct {
	client *redis.Client
}

// NewPageCacheRepo creates a new instance of PageCacheRepoImpl.
func NewPageCacheRepo(client *redis.Client) *PageCacheRepoImpl {
	return &PageCacheRepoImpl{client: client}
}

// Get returns the cached body for key. A missing key is reported as a miss, not an error.
func (r *PageCacheRepoImpl) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// Set stores body under key. SETEX is atomic and sets the key with an expiry.
func (r *PageCacheRepoImpl) Set(ctx context.Context, key string, body []byte, expiry time.Duration) error {
	return r.client.SetEx(ctx, key, body, expiry).Err()
}

var _ repository.PageCacheRepository = (*PageCacheRepoImpl)(nil)
