// Package httpfetch implements repository.PageFetcher over net/http.
//
// Bodies are transcoded to UTF-8 using the Content-Type charset or the
// document's meta tag, so GBK and Big5 sites parse like any other.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/user/booksource-service/internal/repository"
	"golang.org/x/net/html/charset"
)

// Config configures the fetcher.
type Config struct {
	Timeout      time.Duration // Per request. Default: 15s.
	MaxBytes     int64         // Max response body size. Default: 10MB.
	MaxRedirects int           // Default: 5.
	Rotator      *Rotator      // Proxy and user agent source. Default: direct, built-in agents.
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
	if c.Rotator == nil {
		c.Rotator, _ = NewRotator(nil, nil)
	}
}

// Fetcher performs GET requests for the interpreter.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher whose transport routes through the configured proxies.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = cfg.Rotator.Proxy
	maxRedirects := cfg.MaxRedirects
	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Fetch retrieves rawURL. Headers override the rotated User-Agent.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, headers map[string]string) (*repository.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %w", repository.ErrNetwork, err)
	}
	req.Header.Set("User-Agent", f.config.Rotator.UserAgent())
	// Sorted so keys differing only in case resolve the same way every time.
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		req.Header.Set(k, headers[k])
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", repository.ErrNetwork, rawURL, err)
	}
	defer resp.Body.Close()

	result := &repository.FetchResult{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode}
	if !result.OK() {
		// Drain so the connection can be reused. A failed drain only costs
		// the connection.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return result, nil
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, f.config.MaxBytes), resp.Header.Get("Content-Type"))
	if errors.Is(err, io.EOF) {
		return result, nil
	}
	if err == nil {
		result.Body, err = io.ReadAll(body)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read body of %s: %w", repository.ErrNetwork, rawURL, err)
	}
	return result, nil
}

var _ repository.PageFetcher = (*Fetcher)(nil)
