package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/user/booksource-service/internal/entity"
	"github.com/user/booksource-service/internal/repository"
	"github.com/user/booksource-service/internal/rule"
	"github.com/user/booksource-service/pkg/metrics"
	"github.com/user/booksource-service/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	opSearch   = "search"
	opExplore  = "explore"
	opBookInfo = "book_info"
	opToc      = "toc"
	opContent  = "content"
)

// DefaultHeaders are sent with every fetch unless the source overrides them.
var DefaultHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
}

// InterpreterConfig bounds the work done per operation.
type InterpreterConfig struct {
	Timeout           time.Duration // per page fetch
	MaxPages          int           // for nextTocUrl / nextContentUrl chains
	SearchConcurrency int           // sources searched at once by SearchAll
	DefaultHeaders    map[string]string
}

func (c *InterpreterConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 10
	}
	if c.SearchConcurrency <= 0 {
		c.SearchConcurrency = 8
	}
	if c.DefaultHeaders == nil {
		c.DefaultHeaders = DefaultHeaders
	}
}

// Interpreter runs a book source's rules against live pages: build the URL,
// fetch, parse, extract. Fetch failures surface as ErrNetwork and unparseable
// bodies as ErrParse. Selectors that are invalid or match nothing only yield
// empty fields.
type Interpreter struct {
	fetcher repository.PageFetcher
	parser  repository.DocumentParser
	config  InterpreterConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewInterpreter creates a new Interpreter.
func NewInterpreter(fetcher repository.PageFetcher, parser repository.DocumentParser, cfg InterpreterConfig, m *metrics.Metrics, logger *zap.Logger) *Interpreter {
	cfg.defaults()
	return &Interpreter{
		fetcher: fetcher,
		parser:  parser,
		config:  cfg,
		metrics: m,
		logger:  logger,
	}
}

// Search runs the source's searchUrl for keyword and extracts the hits in
// document order. No matches is an empty list, not an error.
func (in *Interpreter) Search(ctx context.Context, src *entity.BookSource, keyword string) ([]entity.SearchBook, error) {
	if strings.TrimSpace(src.SearchURL) == "" {
		return nil, fmt.Errorf("%w: %s has no searchUrl", repository.ErrValidation, src.BookSourceURL)
	}
	target := utils.ResolveURL(src.BookSourceURL, rule.BuildSearchURL(src.SearchURL, keyword))

	books, err := in.bookList(ctx, opSearch, src, target, src.RuleSearch)
	in.record(opSearch, err)
	return books, err
}

// ExploreEntries parses the source's exploreUrl into categories with absolute URLs.
func (in *Interpreter) ExploreEntries(src *entity.BookSource) []entity.ExploreEntry {
	entries := rule.ParseExploreTemplate(src.ExploreURL)
	for i := range entries {
		entries[i].URL = utils.ResolveURL(src.BookSourceURL, entries[i].URL)
	}
	return entries
}

// Explore extracts the books listed on one explore category page, using
// ruleExplore or, when the source has none, ruleSearch.
func (in *Interpreter) Explore(ctx context.Context, src *entity.BookSource, exploreURL string) ([]entity.SearchBook, error) {
	if !src.EnabledExplore {
		return nil, fmt.Errorf("%w: explore is disabled for %s", repository.ErrValidation, src.BookSourceURL)
	}
	target := strings.ReplaceAll(exploreURL, rule.PagePlaceholder, "1")
	target = utils.ResolveURL(src.BookSourceURL, target)

	books, err := in.bookList(ctx, opExplore, src, target, src.ExploreRule())
	in.record(opExplore, err)
	return books, err
}

func (in *Interpreter) bookList(ctx context.Context, op string, src *entity.BookSource, target string, r entity.SearchRule) ([]entity.SearchBook, error) {
	doc, pageURL, err := in.fetchDocument(ctx, op, src, target)
	if err != nil {
		return nil, err
	}
	ex := in.extractor(op, src, pageURL)

	books := []entity.SearchBook{}
	for _, item := range ex.list(doc, "bookList", r.BookList) {
		books = append(books, entity.SearchBook{
			Name:        ex.text(item, "name", r.Name),
			Author:      ex.text(item, "author", r.Author),
			Kind:        ex.text(item, "kind", r.Kind),
			LastChapter: ex.text(item, "lastChapter", r.LastChapter),
			Intro:       ex.text(item, "intro", r.Intro),
			CoverURL:    ex.url(item, "coverUrl", r.CoverURL, attrSrc),
			BookURL:     ex.url(item, "bookUrl", r.BookURL, attrHref),
			Origin:      src.BookSourceURL,
		})
	}
	return books, nil
}

// GetBookInfo extracts the detail record from bookURL. tocUrl falls back to
// the book page itself when the source has no toc rule or it matches nothing.
func (in *Interpreter) GetBookInfo(ctx context.Context, src *entity.BookSource, bookURL string) (*entity.BookInfo, error) {
	info, err := in.bookInfo(ctx, src, utils.ResolveURL(src.BookSourceURL, bookURL))
	in.record(opBookInfo, err)
	return info, err
}

func (in *Interpreter) bookInfo(ctx context.Context, src *entity.BookSource, target string) (*entity.BookInfo, error) {
	doc, pageURL, err := in.fetchDocument(ctx, opBookInfo, src, target)
	if err != nil {
		return nil, err
	}
	ex := in.extractor(opBookInfo, src, pageURL)
	r := src.RuleBookInfo

	info := &entity.BookInfo{
		Name:        ex.text(doc, "name", r.Name),
		Author:      ex.text(doc, "author", r.Author),
		Kind:        ex.text(doc, "kind", r.Kind),
		LastChapter: ex.text(doc, "lastChapter", r.LastChapter),
		Intro:       ex.blockText(doc, "intro", r.Intro),
		CoverURL:    ex.url(doc, "coverUrl", r.CoverURL, attrSrc),
		BookURL:     target,
		TocURL:      ex.url(doc, "tocUrl", r.TocURL, attrHref),
	}
	if info.TocURL == "" {
		info.TocURL = target
	}
	return info, nil
}

// GetChapterList extracts chapters from tocURL, following nextTocUrl links
// up to the configured page limit.
func (in *Interpreter) GetChapterList(ctx context.Context, src *entity.BookSource, tocURL string) ([]entity.Chapter, error) {
	chapters, err := in.chapterList(ctx, src, utils.ResolveURL(src.BookSourceURL, tocURL))
	in.record(opToc, err)
	return chapters, err
}

func (in *Interpreter) chapterList(ctx context.Context, src *entity.BookSource, target string) ([]entity.Chapter, error) {
	r := src.RuleToc
	chapters := []entity.Chapter{}
	err := in.paginate(ctx, opToc, src, target, r.NextTocURL, func(doc repository.Node, ex *extractor) {
		for _, item := range ex.list(doc, "chapterList", r.ChapterList) {
			ch := entity.Chapter{
				Index: len(chapters),
				Title: ex.text(item, "chapterName", r.ChapterName),
				URL:   ex.url(item, "chapterUrl", r.ChapterURL, attrHref),
				IsVip: ex.exists(item, r.IsVip),
			}
			// A list selector that already points at the links carries
			// its own title and href.
			if r.ChapterName == "" {
				ch.Title = item.Text()
			}
			if r.ChapterURL == "" {
				ch.URL = ex.ownURL(item, attrHref)
			}
			chapters = append(chapters, ch)
		}
	})
	if err != nil {
		return nil, err
	}
	return chapters, nil
}

// GetContent extracts the chapter text from chapterURL and the pages chained
// by nextContentUrl, then applies the replaceRegex rules in order.
func (in *Interpreter) GetContent(ctx context.Context, src *entity.BookSource, chapterURL string) (*entity.ChapterContent, error) {
	content, err := in.content(ctx, src, utils.ResolveURL(src.BookSourceURL, chapterURL))
	in.record(opContent, err)
	return content, err
}

func (in *Interpreter) content(ctx context.Context, src *entity.BookSource, target string) (*entity.ChapterContent, error) {
	r := src.RuleContent
	var parts []string
	pages := 0
	err := in.paginate(ctx, opContent, src, target, r.NextContentURL, func(doc repository.Node, ex *extractor) {
		pages++
		for _, n := range ex.list(doc, "content", r.Content) {
			if text := n.BlockText(); text != "" {
				parts = append(parts, text)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	rules, skipped := rule.ParseReplaceRules(r.ReplaceRegex)
	for _, line := range skipped {
		in.logger.Warn("skipping malformed replace rule",
			zap.String("source", src.BookSourceURL), zap.String("rule", line))
	}
	return &entity.ChapterContent{
		URL:     target,
		Content: rule.ApplyReplaceRules(strings.Join(parts, "\n"), rules),
		Pages:   pages,
	}, nil
}

// paginate fetches target and then every page linked by nextSelector,
// stopping at MaxPages, at a repeated URL, or when no link is found. An
// error on any page fails the whole operation.
func (in *Interpreter) paginate(ctx context.Context, op string, src *entity.BookSource, target, nextSelector string, visit func(repository.Node, *extractor)) error {
	seen := map[string]struct{}{}
	for page := 0; page < in.config.MaxPages && target != ""; page++ {
		if _, dup := seen[target]; dup {
			break
		}
		seen[target] = struct{}{}

		doc, pageURL, err := in.fetchDocument(ctx, op, src, target)
		if err != nil {
			return err
		}
		ex := in.extractor(op, src, pageURL)
		visit(doc, ex)

		if nextSelector == "" {
			break
		}
		target = ex.nextURL(doc, nextSelector)
	}
	return nil
}

// SourceFailure names a source that failed during SearchAll.
type SourceFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// SearchAllResult holds the merged hits of a multi-source search.
type SearchAllResult struct {
	Books    []entity.SearchBook `json:"books"`
	Failures []SourceFailure     `json:"failures"`
}

// SearchAll searches every source concurrently. A failing source is reported
// in Failures and does not fail the batch. Books keep source order, then
// document order.
func (in *Interpreter) SearchAll(ctx context.Context, sources []*entity.BookSource, keyword string) *SearchAllResult {
	perSource := make([][]entity.SearchBook, len(sources))
	var (
		mu       sync.Mutex
		failures = []SourceFailure{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.config.SearchConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			books, err := in.Search(gctx, src, keyword)
			if err != nil {
				in.logger.Warn("source search failed", zap.String("source", src.BookSourceURL), zap.Error(err))
				mu.Lock()
				failures = append(failures, SourceFailure{Source: src.BookSourceURL, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			perSource[i] = books
			return nil
		})
	}
	g.Wait()

	result := &SearchAllResult{Books: []entity.SearchBook{}, Failures: failures}
	for _, books := range perSource {
		result.Books = append(result.Books, books...)
	}
	return result
}

func (in *Interpreter) fetchDocument(ctx context.Context, op string, src *entity.BookSource, target string) (repository.Node, string, error) {
	ctx, cancel := context.WithTimeout(ctx, in.config.Timeout)
	defer cancel()

	headers := mergeHeaders(in.config.DefaultHeaders, src.Header)

	startTime := time.Now()
	res, err := in.fetcher.Fetch(ctx, target, headers)
	in.metrics.ObserveFetchDuration(utils.Domain(target), time.Since(startTime))
	if err != nil {
		if errors.Is(err, repository.ErrNetwork) {
			return nil, "", fmt.Errorf("%s %s: %w", op, target, err)
		}
		return nil, "", fmt.Errorf("%s %s: %w: %w", op, target, repository.ErrNetwork, err)
	}
	if !res.OK() {
		return nil, "", fmt.Errorf("%s %s: %w: status %d", op, target, repository.ErrNetwork, res.StatusCode)
	}

	pageURL := res.URL
	if pageURL == "" {
		pageURL = target
	}
	if len(bytes.TrimSpace(res.Body)) == 0 {
		return nil, "", fmt.Errorf("%s %s: %w: empty body", op, target, repository.ErrParse)
	}
	doc, err := in.parser.Parse(res.Body, pageURL)
	if err != nil {
		return nil, "", fmt.Errorf("%s %s: %w: %w", op, target, repository.ErrParse, err)
	}
	in.logger.Debug("page fetched", zap.String("op", op), zap.String("url", pageURL), zap.Int("bytes", len(res.Body)))
	return doc, pageURL, nil
}

// mergeHeaders layers overrides over defaults. Keys are canonicalized so a
// source's "accept" replaces the default "Accept".
func mergeHeaders(defaults, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[http.CanonicalHeaderKey(k)] = v
	}
	for k, v := range overrides {
		out[http.CanonicalHeaderKey(k)] = v
	}
	return out
}

func (in *Interpreter) record(op string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNetwork):
		outcome = "network"
	case errors.Is(err, repository.ErrParse):
		outcome = "parse"
	default:
		outcome = "error"
	}
	in.metrics.IncFetch(op, outcome)
}

func (in *Interpreter) extractor(op string, src *entity.BookSource, pageURL string) *extractor {
	return &extractor{
		op:      op,
		source:  src.BookSourceURL,
		base:    pageURL,
		metrics: in.metrics,
		logger:  in.logger,
		warned:  map[string]struct{}{},
	}
}
