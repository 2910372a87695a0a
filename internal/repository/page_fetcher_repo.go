package repository

import "context"

// FetchResult is the raw outcome of a GET. URL is the final address after
// redirects and is the base for resolving relative links.
type FetchResult struct {
	URL        string
	StatusCode int
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *FetchResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// PageFetcher defines the mechanism that retrieves a page.
type PageFetcher interface {
	// Fetch performs a GET with the given headers. Transport failures are
	// returned as errors; any HTTP status is returned as a result.
	Fetch(ctx context.Context, url string, headers map[string]string) (*FetchResult, error)
}
