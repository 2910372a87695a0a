package httpfetch

import (
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
)

// DefaultUserAgents is used when no user agents are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// Rotator handles the rotation of proxies and user agents.
type Rotator struct {
	proxies    []*url.URL
	userAgents []string

	mu         sync.Mutex
	proxyIndex int
}

// NewRotator parses the proxy list and keeps the user agents. Unparseable
// proxies are returned so the caller can report them.
func NewRotator(proxies, userAgents []string) (*Rotator, []string) {
	r := &Rotator{userAgents: userAgents}
	if len(r.userAgents) == 0 {
		r.userAgents = DefaultUserAgents
	}
	var invalid []string
	for _, p := range proxies {
		u, err := url.Parse(p)
		if err != nil || u.Host == "" {
			invalid = append(invalid, p)
			continue
		}
		r.proxies = append(r.proxies, u)
	}
	return r, invalid
}

// Proxy returns the next proxy, rotating sequentially. It has the signature of
// http.Transport.Proxy; a nil URL means a direct connection.
func (r *Rotator) Proxy(*http.Request) (*url.URL, error) {
	if len(r.proxies) == 0 {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.proxies[r.proxyIndex]
	r.proxyIndex = (r.proxyIndex + 1) % len(r.proxies)
	return p, nil
}

// UserAgent returns a random user agent string.
func (r *Rotator) UserAgent() string {
	return r.userAgents[rand.IntN(len(r.userAgents))]
}
