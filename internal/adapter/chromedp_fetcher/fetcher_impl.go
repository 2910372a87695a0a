package chromedp_fetcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/user/booksource-service/internal/repository"
	"go.uber.org/zap"
)

// ChromedpFetcher renders pages in headless Chrome so sources whose lists are
// built by scripts can still be read.
type ChromedpFetcher struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	timeout     time.Duration
	userAgent   string
	logger      *zap.Logger
}

// NewChromedpFetcher starts one browser allocator shared by every fetch.
func NewChromedpFetcher(pageLoadTimeout time.Duration, userAgent string, logger *zap.Logger) *ChromedpFetcher {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromedpFetcher{
		allocCtx:    allocCtx,
		cancelAlloc: cancel,
		timeout:     pageLoadTimeout,
		userAgent:   userAgent,
		logger:      logger,
	}
}

// Fetch navigates a fresh tab to url and returns the rendered HTML. The status
// code comes from the response event of the main document.
func (c *ChromedpFetcher) Fetch(ctx context.Context, url string, headers map[string]string) (*repository.FetchResult, error) {
	taskCtx, cancel := chromedp.NewContext(c.allocCtx, chromedp.WithLogf(c.logger.Sugar().Debugf))
	defer cancel()

	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, c.timeout)
	defer cancelTimeout()
	// Stop the tab when the caller gives up.
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	var status atomic.Int64
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok && resp.Type == network.ResourceTypeDocument {
			status.CompareAndSwap(0, resp.Response.Status)
		}
	})

	extra := make(network.Headers, len(headers))
	for k, v := range headers {
		extra[k] = v
	}

	var html, finalURL string
	startTime := time.Now()
	err := chromedp.Run(taskCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(extra),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		c.logger.Warn("browser fetch failed", zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("%w: render %s: %w", repository.ErrNetwork, url, err)
	}

	code := int(status.Load())
	if code == 0 {
		code = 200
	}
	c.logger.Debug("browser fetch done",
		zap.String("url", url),
		zap.Int("status", code),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return &repository.FetchResult{URL: finalURL, StatusCode: code, Body: []byte(html)}, nil
}

// Close shuts the browser down.
func (c *ChromedpFetcher) Close() {
	c.cancelAlloc()
}

var _ repository.PageFetcher = (*ChromedpFetcher)(nil)
