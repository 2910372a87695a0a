package usecase

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/user/booksource-service/internal/entity"
	"github.com/user/booksource-service/internal/repository"
	"github.com/user/booksource-service/internal/rule"
	"github.com/user/booksource-service/pkg/metrics"
	"go.uber.org/zap"
)

// Registry is the in-memory view of every book source, keyed by
// bookSourceUrl and kept consistent with the store.
//
// Reads never touch the store. Mutations wait for the initial load, write the
// store first and only then update the map, so a failed write leaves the
// cache untouched. Mutations are serialized.
type Registry struct {
	store   repository.BookSourceRepository
	metrics *metrics.Metrics
	logger  *zap.Logger

	ready   chan struct{}
	loadErr error

	writeMu sync.Mutex

	mu      sync.RWMutex
	sources map[string]*entity.BookSource
}

// NewRegistry creates the registry and starts loading it from the store in
// the background. Ready reports when that single load has finished.
func NewRegistry(ctx context.Context, store repository.BookSourceRepository, m *metrics.Metrics, logger *zap.Logger) *Registry {
	r := &Registry{
		store:   store,
		metrics: m,
		logger:  logger,
		ready:   make(chan struct{}),
		sources: make(map[string]*entity.BookSource),
	}
	go r.load(ctx)
	return r
}

func (r *Registry) load(ctx context.Context) {
	defer close(r.ready)

	if err := r.store.Init(ctx); err != nil {
		r.loadErr = err
		r.logger.Error("book source store init failed", zap.Error(err))
		return
	}
	all, err := r.store.GetAll(ctx)
	if err != nil {
		r.loadErr = fmt.Errorf("load book sources: %w", err)
		r.logger.Error("loading book sources failed", zap.Error(err))
		return
	}

	r.mu.Lock()
	for _, s := range all {
		r.sources[s.BookSourceURL] = s
	}
	n := len(r.sources)
	r.mu.Unlock()

	r.metrics.SetRegistrySources(n)
	r.logger.Info("book source registry loaded", zap.Int("sources", n))
}

// Ready blocks until the initial load has finished and returns its error.
// Every caller waits on the same load.
func (r *Registry) Ready(ctx context.Context) error {
	select {
	case <-r.ready:
		return r.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetAll returns copies of every source, highest weight first, then most
// recently updated.
func (r *Registry) GetAll() []*entity.BookSource {
	r.mu.RLock()
	out := make([]*entity.BookSource, 0, len(r.sources))
	for _, s := range r.sources {
		c := s.Clone()
		out = append(out, &c)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *entity.BookSource) int {
		return cmp.Or(
			cmp.Compare(b.Weight, a.Weight),
			cmp.Compare(b.LastUpdateTime, a.LastUpdateTime),
			cmp.Compare(a.BookSourceURL, b.BookSourceURL),
		)
	})
	return out
}

// Get returns a copy of the source with the given url.
func (r *Registry) Get(url string) (*entity.BookSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[url]
	if !ok {
		return nil, false
	}
	c := s.Clone()
	return &c, true
}

// Groups returns the union of group tags across all sources, in GetAll order.
func (r *Registry) Groups() []string {
	groups := []string{}
	seen := map[string]struct{}{}
	for _, s := range r.GetAll() {
		for _, tag := range rule.ParseGroupTags(s.BookSourceGroup) {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			groups = append(groups, tag)
		}
	}
	return groups
}

// ByGroup returns the sources tagged with tag.
func (r *Registry) ByGroup(tag string) []*entity.BookSource {
	return r.filter(func(s *entity.BookSource) bool {
		return rule.HasGroupTag(s.BookSourceGroup, tag)
	})
}

// Enabled returns the sources with enabled set.
func (r *Registry) Enabled() []*entity.BookSource {
	return r.filter(func(s *entity.BookSource) bool { return s.Enabled })
}

// Filter returns the sources whose name or url contains query, ignoring case.
// An empty query matches everything.
func (r *Registry) Filter(query string) []*entity.BookSource {
	q := strings.ToLower(strings.TrimSpace(query))
	return r.filter(func(s *entity.BookSource) bool {
		return strings.Contains(strings.ToLower(s.BookSourceName), q) ||
			strings.Contains(strings.ToLower(s.BookSourceURL), q)
	})
}

func (r *Registry) filter(keep func(*entity.BookSource) bool) []*entity.BookSource {
	all := r.GetAll()
	out := all[:0]
	for _, s := range all {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// Add validates and persists source, then caches it. Adding a url that is
// already registered replaces that record and keeps its id.
func (r *Registry) Add(ctx context.Context, source *entity.BookSource) (*entity.BookSource, error) {
	if missing := source.MissingFields(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", repository.ErrValidation, strings.Join(missing, ", "))
	}
	if err := r.Ready(ctx); err != nil {
		return nil, err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	rec := source.Clone()
	rec.ID = ""
	if existing, ok := r.Get(rec.BookSourceURL); ok {
		rec.ID = existing.ID
	}
	if _, err := r.store.Add(ctx, &rec); err != nil {
		return nil, fmt.Errorf("add book source %s: %w", rec.BookSourceURL, err)
	}

	r.put(&rec)
	r.logger.Info("book source added", zap.String("url", rec.BookSourceURL), zap.String("id", rec.ID))
	out := rec.Clone()
	return &out, nil
}

// Update merges patch over the cached record of patch.BookSourceURL and
// persists only the supplied fields.
func (r *Registry) Update(ctx context.Context, patch entity.BookSourcePatch) (*entity.BookSource, error) {
	if err := r.Ready(ctx); err != nil {
		return nil, err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	existing, ok := r.Get(patch.BookSourceURL)
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, patch.BookSourceURL)
	}
	updated := existing.Clone()
	patch.Apply(&updated)
	if missing := updated.MissingFields(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", repository.ErrValidation, strings.Join(missing, ", "))
	}

	stamp, err := r.store.Update(ctx, existing.ID, patch.Fields())
	if err != nil {
		return nil, fmt.Errorf("update book source %s: %w", patch.BookSourceURL, err)
	}
	updated.LastUpdateTime = stamp

	r.put(&updated)
	out := updated.Clone()
	return &out, nil
}

// Toggle flips enabled for url and returns the new value.
func (r *Registry) Toggle(ctx context.Context, url string) (bool, error) {
	if err := r.Ready(ctx); err != nil {
		return false, err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	existing, ok := r.Get(url)
	if !ok {
		return false, fmt.Errorf("%w: %s", repository.ErrNotFound, url)
	}
	enabled := !existing.Enabled
	stamp, err := r.store.Update(ctx, existing.ID, map[string]any{"enabled": enabled})
	if err != nil {
		return false, fmt.Errorf("toggle book source %s: %w", url, err)
	}
	existing.Enabled = enabled
	existing.LastUpdateTime = stamp

	r.put(existing)
	return enabled, nil
}

// Delete removes url from the store and then from the cache. An unknown url
// is ErrNotFound and the store is not touched.
func (r *Registry) Delete(ctx context.Context, url string) error {
	if err := r.Ready(ctx); err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	existing, ok := r.Get(url)
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, url)
	}
	if err := r.store.Remove(ctx, existing.ID); err != nil {
		return fmt.Errorf("delete book source %s: %w", url, err)
	}

	r.mu.Lock()
	delete(r.sources, url)
	n := len(r.sources)
	r.mu.Unlock()

	r.metrics.SetRegistrySources(n)
	r.logger.Info("book source deleted", zap.String("url", url))
	return nil
}

// Close releases the store.
func (r *Registry) Close() error {
	return r.store.Close()
}

func (r *Registry) put(s *entity.BookSource) {
	r.mu.Lock()
	r.sources[s.BookSourceURL] = s
	n := len(r.sources)
	r.mu.Unlock()
	r.metrics.SetRegistrySources(n)
}
