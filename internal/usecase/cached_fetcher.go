package usecase

import (
	"bytes"
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/user/booksource-service/internal/repository"
	"github.com/user/booksource-service/pkg/metrics"
	"github.com/user/booksource-service/pkg/utils"
	"go.uber.org/zap"
)

type cachedFetcher struct {
	inner   repository.PageFetcher
	cache   repository.PageCacheRepository
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCachedFetcher wraps inner with a page cache. Only 2xx responses are
// cached. A failing cache is logged and bypassed.
func NewCachedFetcher(inner repository.PageFetcher, cache repository.PageCacheRepository, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) repository.PageFetcher {
	return &cachedFetcher{inner: inner, cache: cache, ttl: ttl, metrics: m, logger: logger}
}

func (c *cachedFetcher) Fetch(ctx context.Context, url string, headers map[string]string) (*repository.FetchResult, error) {
	key := pageCacheKey(url, headers)

	cached, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.metrics.IncPageCache("error")
		c.logger.Warn("page cache read failed", zap.String("url", url), zap.Error(err))
	case ok:
		if finalURL, body, found := bytes.Cut(cached, []byte("\n")); found {
			c.metrics.IncPageCache("hit")
			return &repository.FetchResult{URL: string(finalURL), StatusCode: 200, Body: body}, nil
		}
		c.logger.Warn("discarding malformed page cache entry", zap.String("url", url))
	}
	c.metrics.IncPageCache("miss")

	res, err := c.inner.Fetch(ctx, url, headers)
	if err != nil || !res.OK() {
		return res, err
	}

	entry := make([]byte, 0, len(res.URL)+1+len(res.Body))
	entry = append(entry, res.URL...)
	entry = append(entry, '\n')
	entry = append(entry, res.Body...)
	if err := c.cache.Set(ctx, key, entry, c.ttl); err != nil {
		c.metrics.IncPageCache("error")
		c.logger.Warn("page cache write failed", zap.String("url", url), zap.Error(err))
	}
	return res, nil
}

// pageCacheKey includes the request headers because sources vary responses
// on cookies and referers.
func pageCacheKey(url string, headers map[string]string) string {
	var b strings.Builder
	b.WriteString(url)
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		b.WriteString("\n")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(headers[k])
	}
	return "page:" + utils.HashURL(b.String())
}
