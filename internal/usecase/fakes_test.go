package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/booksource-service/internal/entity"
	"github.com/user/booksource-service/internal/repository"
)

var errDiskFull = errors.New("disk full")

// fakeStore is an in-memory BookSourceRepository with call counters and
// switchable failures.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]entity.BookSource
	nextID  int
	initErr error

	failAdd    bool
	failUpdate bool
	failRemove bool

	getAllCalls atomic.Int32
	removeCalls atomic.Int32
	loadDelay   time.Duration
}

func newFakeStore(seed ...*entity.BookSource) *fakeStore {
	s := &fakeStore{rows: map[string]entity.BookSource{}}
	for _, src := range seed {
		s.nextID++
		c := src.Clone()
		c.ID = fmt.Sprintf("id-%d", s.nextID)
		s.rows[c.ID] = c
	}
	return s
}

func (s *fakeStore) Init(context.Context) error { return s.initErr }

func (s *fakeStore) GetAll(ctx context.Context) ([]*entity.BookSource, error) {
	s.getAllCalls.Add(1)
	if s.loadDelay > 0 {
		time.Sleep(s.loadDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*entity.BookSource{}
	for _, r := range s.rows {
		c := r.Clone()
		out = append(out, &c)
	}
	return out, nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*entity.BookSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := r.Clone()
	return &c, nil
}

func (s *fakeStore) Add(_ context.Context, src *entity.BookSource) (string, error) {
	if s.failAdd {
		return "", errDiskFull
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if src.ID == "" {
		s.nextID++
		src.ID = fmt.Sprintf("id-%d", s.nextID)
	}
	src.LastUpdateTime = time.Now().UnixMilli()
	s.rows[src.ID] = src.Clone()
	return src.ID, nil
}

func (s *fakeStore) Update(_ context.Context, id string, fields map[string]any) (int64, error) {
	if s.failUpdate {
		return 0, errDiskFull
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	for c, v := range fields {
		if _, err := repository.EncodeField(c, v); err != nil {
			return 0, err
		}
		if c == "enabled" {
			r.Enabled = v.(bool)
		}
	}
	r.LastUpdateTime++
	s.rows[id] = r
	return r.LastUpdateTime, nil
}

func (s *fakeStore) Remove(_ context.Context, id string) error {
	s.removeCalls.Add(1)
	if s.failRemove {
		return errDiskFull
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) countURL(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.BookSourceURL == url {
			n++
		}
	}
	return n
}

// fakeFetcher serves canned pages by url.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	status   map[string]int
	err      error
	requests []fakeRequest
}

type fakeRequest struct {
	URL     string
	Headers map[string]string
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{pages: pages, status: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, headers map[string]string) (*repository.FetchResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, fakeRequest{URL: url, Headers: headers})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if code, ok := f.status[url]; ok {
		return &repository.FetchResult{URL: url, StatusCode: code}, nil
	}
	body, ok := f.pages[url]
	if !ok {
		return &repository.FetchResult{URL: url, StatusCode: 404}, nil
	}
	return &repository.FetchResult{URL: url, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) calls() []fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeRequest(nil), f.requests...)
}
