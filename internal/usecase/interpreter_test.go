package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/user/booksource-service/internal/adapter/goquery_dom"
	"github.com/user/booksource-service/internal/entity"
	"github.com/user/booksource-service/internal/repository"
	"go.uber.org/zap/zaptest"
)

const searchPage = `<html><body>
<div class="item">
  <a class="title" href="/book/1">斗破苍穹</a>
  <span class="author">天蚕土豆</span>
  <img class="cover" src="/img/1.jpg">
</div>
<div class="item">
  <a class="title" href="http://other.test/book/2">武动乾坤</a>
</div>
</body></html>`

func newTestInterpreter(t *testing.T, f *fakeFetcher, cfg InterpreterConfig) *Interpreter {
	t.Helper()
	return NewInterpreter(f, goquery_dom.NewParser(), cfg, nil, zaptest.NewLogger(t))
}

func exampleSource() *entity.BookSource {
	return &entity.BookSource{
		BookSourceURL:  "http://ex.test",
		BookSourceName: "Ex",
		Enabled:        true,
		EnabledExplore: true,
		Header:         entity.Headers{"Referer": "http://ex.test/"},
		SearchURL:      "/search?q={{key}}",
		RuleSearch: entity.SearchRule{
			BookList: ".item",
			Name:     ".title",
			Author:   ".author",
			CoverURL: ".cover",
			BookURL:  ".title",
		},
	}
}

func TestAddSearchDelete(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher(map[string]string{"http://ex.test/s?q=foo": searchPage})
	in := newTestInterpreter(t, f, InterpreterConfig{})
	r := newTestRegistry(t, newFakeStore())

	if _, err := r.Add(ctx, &entity.BookSource{
		BookSourceURL:  "http://ex.test",
		BookSourceName: "Ex",
		SearchURL:      "http://ex.test/s?q={{key}}",
		RuleSearch:     entity.SearchRule{BookList: ".item", Name: ".title"},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	src, _ := r.Get("http://ex.test")
	books, err := in.Search(ctx, src, "foo")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(books) != 2 || books[0].Name != "斗破苍穹" || books[1].Name != "武动乾坤" {
		t.Fatalf("got %+v", books)
	}
	if err := r.Delete(ctx, "http://ex.test"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(r.GetAll()) != 0 {
		t.Error("registry not empty after delete")
	}
}

func TestSearch_Extraction(t *testing.T) {
	f := newFakeFetcher(map[string]string{"http://ex.test/search?q=%E6%96%97%E7%A0%B4": searchPage})
	in := newTestInterpreter(t, f, InterpreterConfig{})

	books, err := in.Search(context.Background(), exampleSource(), "斗破")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	first := books[0]
	if first.Author != "天蚕土豆" {
		t.Errorf("author: got %q", first.Author)
	}
	if first.BookURL != "http://ex.test/book/1" || first.CoverURL != "http://ex.test/img/1.jpg" {
		t.Errorf("urls not resolved: %+v", first)
	}
	if first.Origin != "http://ex.test" {
		t.Errorf("origin: got %q", first.Origin)
	}
	// Missing author is an empty field, not an error.
	if books[1].Author != "" || books[1].BookURL != "http://other.test/book/2" {
		t.Errorf("second: %+v", books[1])
	}

	reqs := f.calls()
	if len(reqs) != 1 {
		t.Fatalf("requests: %d", len(reqs))
	}
	if reqs[0].Headers["Referer"] != "http://ex.test/" || reqs[0].Headers["Accept"] == "" {
		t.Errorf("headers: %v", reqs[0].Headers)
	}
}

func TestSearch_SourceHeadersOverrideDefaultsIgnoringCase(t *testing.T) {
	f := newFakeFetcher(map[string]string{"http://ex.test/search?q=x": searchPage})
	in := newTestInterpreter(t, f, InterpreterConfig{})
	src := exampleSource()
	src.Header = entity.Headers{"accept": "application/json", "referer": "http://ex.test/"}

	for i := 0; i < 10; i++ {
		if _, err := in.Search(context.Background(), src, "x"); err != nil {
			t.Fatalf("search: %v", err)
		}
	}
	for i, req := range f.calls() {
		if req.Headers["Accept"] != "application/json" {
			t.Errorf("request %d: Accept = %q", i, req.Headers["Accept"])
		}
		if _, dup := req.Headers["accept"]; dup {
			t.Errorf("request %d: non-canonical key survived: %v", i, req.Headers)
		}
		if req.Headers["Referer"] != "http://ex.test/" || req.Headers["Accept-Language"] == "" {
			t.Errorf("request %d: headers %v", i, req.Headers)
		}
	}
}

func TestSearch_NoMatchesAndInvalidSelector(t *testing.T) {
	f := newFakeFetcher(map[string]string{"http://ex.test/search?q=x": `<html><body><p>nothing</p></body></html>`})
	in := newTestInterpreter(t, f, InterpreterConfig{})

	books, err := in.Search(context.Background(), exampleSource(), "x")
	if err != nil || books == nil || len(books) != 0 {
		t.Errorf("no matches: %v %v", books, err)
	}

	src := exampleSource()
	src.RuleSearch.BookList = "div[class="
	books, err = in.Search(context.Background(), src, "x")
	if err != nil || len(books) != 0 {
		t.Errorf("invalid selector: %v %v", books, err)
	}
}

func TestSearch_Errors(t *testing.T) {
	ctx := context.Background()

	f := newFakeFetcher(nil)
	in := newTestInterpreter(t, f, InterpreterConfig{})
	if _, err := in.Search(ctx, exampleSource(), "x"); !errors.Is(err, repository.ErrNetwork) {
		t.Errorf("404: got %v", err)
	}

	f.err = errors.New("connection refused")
	if _, err := in.Search(ctx, exampleSource(), "x"); !errors.Is(err, repository.ErrNetwork) {
		t.Errorf("transport: got %v", err)
	}

	f = newFakeFetcher(map[string]string{"http://ex.test/search?q=x": "  \n"})
	in = newTestInterpreter(t, f, InterpreterConfig{})
	if _, err := in.Search(ctx, exampleSource(), "x"); !errors.Is(err, repository.ErrParse) {
		t.Errorf("empty body: got %v", err)
	}

	src := exampleSource()
	src.SearchURL = ""
	if _, err := in.Search(ctx, src, "x"); !errors.Is(err, repository.ErrValidation) {
		t.Errorf("no searchUrl: got %v", err)
	}
}

func bookSource() *entity.BookSource {
	src := exampleSource()
	src.RuleBookInfo = entity.BookInfoRule{
		Name:   "h1",
		Author: ".author",
		Intro:  ".intro",
		TocURL: "a.toc",
	}
	src.RuleToc = entity.TocRule{
		ChapterList: ".chapters li",
		ChapterName: "a",
		ChapterURL:  "a",
		IsVip:       ".vip",
		NextTocURL:  "a.next",
	}
	src.RuleContent = entity.ContentRule{
		Content:        "#content",
		NextContentURL: "a.next",
		ReplaceRegex:   "广告内容::\n[bad::x",
	}
	return src
}

func TestGetBookInfo(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"http://ex.test/book/1": `<html><body>
			<h1>斗破苍穹</h1><p class="intro">第一段<br>第二段</p>
			<a class="toc" href="toc.html">目录</a></body></html>`,
		"http://ex.test/book/2": `<html><body><h1>No toc link</h1></body></html>`,
	})
	in := newTestInterpreter(t, f, InterpreterConfig{})
	ctx := context.Background()

	info, err := in.GetBookInfo(ctx, bookSource(), "/book/1")
	if err != nil {
		t.Fatalf("book info: %v", err)
	}
	if info.Name != "斗破苍穹" || info.Author != "" {
		t.Errorf("got %+v", info)
	}
	if info.Intro != "第一段\n第二段" {
		t.Errorf("intro: got %q", info.Intro)
	}
	if info.TocURL != "http://ex.test/book/toc.html" {
		t.Errorf("tocUrl: got %q", info.TocURL)
	}

	info, err = in.GetBookInfo(ctx, bookSource(), "http://ex.test/book/2")
	if err != nil {
		t.Fatalf("book info: %v", err)
	}
	if info.TocURL != "http://ex.test/book/2" {
		t.Errorf("tocUrl default: got %q", info.TocURL)
	}
}

func TestGetChapterList_Pagination(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"http://ex.test/toc/1": `<ul class="chapters">
			<li><a href="/c/1">第一章</a></li>
			<li><a href="/c/2">第二章</a><span class="vip">VIP</span></li>
			</ul><a class="next" href="/toc/2">下一页</a>`,
		"http://ex.test/toc/2": `<ul class="chapters">
			<li><a href="/c/3">第三章</a></li>
			</ul><a class="next" href="/toc/1">回到第一页</a>`,
	})
	in := newTestInterpreter(t, f, InterpreterConfig{})

	chapters, err := in.GetChapterList(context.Background(), bookSource(), "http://ex.test/toc/1")
	if err != nil {
		t.Fatalf("toc: %v", err)
	}
	if len(chapters) != 3 {
		t.Fatalf("got %d chapters: %+v", len(chapters), chapters)
	}
	want := []entity.Chapter{
		{Index: 0, Title: "第一章", URL: "http://ex.test/c/1"},
		{Index: 1, Title: "第二章", URL: "http://ex.test/c/2", IsVip: true},
		{Index: 2, Title: "第三章", URL: "http://ex.test/c/3"},
	}
	for i := range want {
		if chapters[i] != want[i] {
			t.Errorf("chapter %d: got %+v, want %+v", i, chapters[i], want[i])
		}
	}
	// The link back to page one must not be followed.
	if n := len(f.calls()); n != 2 {
		t.Errorf("expected 2 fetches, got %d", n)
	}
}

func TestGetChapterList_ListSelectorOnLinks(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"http://ex.test/toc": `<div id="list"><a href="1.html">一</a><a href="2.html">二</a></div>`,
	})
	in := newTestInterpreter(t, f, InterpreterConfig{})
	src := exampleSource()
	src.RuleToc = entity.TocRule{ChapterList: "#list a"}

	chapters, err := in.GetChapterList(context.Background(), src, "/toc")
	if err != nil {
		t.Fatalf("toc: %v", err)
	}
	if len(chapters) != 2 || chapters[1].Title != "二" || chapters[1].URL != "http://ex.test/2.html" {
		t.Errorf("got %+v", chapters)
	}
}

func TestGetChapterList_MaxPages(t *testing.T) {
	pages := map[string]string{}
	for i := 1; i <= 5; i++ {
		pages[fmt.Sprintf("http://ex.test/toc/%d", i)] = fmt.Sprintf(
			`<ul class="chapters"><li><a href="/c/%d">%d</a></li></ul><a class="next" href="/toc/%d">next</a>`, i, i, i+1)
	}
	f := newFakeFetcher(pages)
	in := newTestInterpreter(t, f, InterpreterConfig{MaxPages: 3})

	chapters, err := in.GetChapterList(context.Background(), bookSource(), "http://ex.test/toc/1")
	if err != nil {
		t.Fatalf("toc: %v", err)
	}
	if len(chapters) != 3 {
		t.Errorf("expected page limit to stop at 3 chapters, got %d", len(chapters))
	}
}

func TestGetChapterList_PageErrorFails(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"http://ex.test/toc/1": `<ul class="chapters"><li><a href="/c/1">1</a></li></ul><a class="next" href="/toc/2">next</a>`,
	})
	in := newTestInterpreter(t, f, InterpreterConfig{})

	if _, err := in.GetChapterList(context.Background(), bookSource(), "http://ex.test/toc/1"); !errors.Is(err, repository.ErrNetwork) {
		t.Errorf("got %v", err)
	}
}

func TestGetContent(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"http://ex.test/c/1": `<div id="content">第一章<br>广告内容<br>正文</div><a class="next" href="/c/1_2">下一页</a>`,
		"http://ex.test/c/1_2": `<div id="content"><p>续</p><script>track()</script></div>`,
	})
	in := newTestInterpreter(t, f, InterpreterConfig{})

	content, err := in.GetContent(context.Background(), bookSource(), "/c/1")
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if content.Content != "第一章\n\n正文\n续" {
		t.Errorf("content: got %q", content.Content)
	}
	if content.Pages != 2 || content.URL != "http://ex.test/c/1" {
		t.Errorf("got %+v", content)
	}
}

func TestGetContent_NoMatchIsEmpty(t *testing.T) {
	f := newFakeFetcher(map[string]string{"http://ex.test/c/1": `<p>elsewhere</p>`})
	in := newTestInterpreter(t, f, InterpreterConfig{})

	content, err := in.GetContent(context.Background(), bookSource(), "/c/1")
	if err != nil || content.Content != "" {
		t.Errorf("got %+v %v", content, err)
	}
}

func TestExplore(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"http://ex.test/cat/1?page=1": `<div class="row"><a href="/book/9">凡人修仙传</a></div>`,
	})
	in := newTestInterpreter(t, f, InterpreterConfig{})
	src := exampleSource()
	src.ExploreURL = "玄幻::/cat/1?page={{page}}\n都市::/cat/2"
	src.RuleExplore = &entity.SearchRule{BookList: ".row", Name: "a", BookURL: "a"}

	entries := in.ExploreEntries(src)
	if len(entries) != 2 || entries[0].Title != "玄幻" || entries[1].URL != "http://ex.test/cat/2" {
		t.Fatalf("entries: %+v", entries)
	}

	books, err := in.Explore(context.Background(), src, entries[0].URL)
	if err != nil {
		t.Fatalf("explore: %v", err)
	}
	if len(books) != 1 || books[0].Name != "凡人修仙传" || books[0].BookURL != "http://ex.test/book/9" {
		t.Errorf("got %+v", books)
	}

	src.EnabledExplore = false
	if _, err := in.Explore(context.Background(), src, entries[0].URL); !errors.Is(err, repository.ErrValidation) {
		t.Errorf("disabled explore: got %v", err)
	}
}

func TestSearchAll_CollectsFailures(t *testing.T) {
	f := newFakeFetcher(map[string]string{"http://ex.test/search?q=x": searchPage})
	in := newTestInterpreter(t, f, InterpreterConfig{SearchConcurrency: 2})

	broken := exampleSource()
	broken.BookSourceURL = "http://down.test"
	res := in.SearchAll(context.Background(), []*entity.BookSource{exampleSource(), broken}, "x")

	if len(res.Books) != 2 {
		t.Errorf("books: got %d", len(res.Books))
	}
	if len(res.Failures) != 1 || res.Failures[0].Source != "http://down.test" {
		t.Fatalf("failures: %+v", res.Failures)
	}
	if !strings.Contains(res.Failures[0].Error, "404") {
		t.Errorf("failure message: %q", res.Failures[0].Error)
	}
}
