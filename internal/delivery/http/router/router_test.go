package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/user/booksource-service/internal/adapter/goquery_dom"
	"github.com/user/booksource-service/internal/adapter/httpfetch"
	"github.com/user/booksource-service/internal/adapter/sqlite"
	"github.com/user/booksource-service/internal/delivery/http/handler"
	"github.com/user/booksource-service/internal/entity"
	"github.com/user/booksource-service/internal/usecase"
	"github.com/user/booksource-service/pkg/metrics"
	"go.uber.org/zap/zaptest"
)

// site serves a tiny book site for the interpreter to scrape.
func site(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<div class="item"><a class="title" href="/book/1">%s</a></div>`, r.URL.Query().Get("q"))
	})
	mux.HandleFunc("/book/1", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<h1>斗破苍穹</h1><a class="toc" href="/toc/1">目录</a>`)
	})
	mux.HandleFunc("/toc/1", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<ul id="list"><li><a href="/c/1">第一章</a></li></ul>`)
	})
	mux.HandleFunc("/c/1", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<div id="content">正文<br>广告</div>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testServer struct {
	*httptest.Server
	site *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	registry := usecase.NewRegistry(context.Background(), sqlite.NewBookSourceRepo(sqlite.MemoryPath), m, logger)
	t.Cleanup(func() { registry.Close() })
	fetcher := httpfetch.New(httpfetch.Config{Timeout: 5 * time.Second})
	interpreter := usecase.NewInterpreter(fetcher, goquery_dom.NewParser(), usecase.InterpreterConfig{}, m, logger)
	importer := usecase.NewImporter(registry, fetcher, logger)

	h := handler.NewHandler(registry, interpreter, importer, logger)
	srv := httptest.NewServer(New(h, Options{Logger: logger, Metrics: m, Gatherer: reg}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, site: site(t)}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (s *testServer) source() *entity.BookSource {
	return &entity.BookSource{
		BookSourceURL:   s.site.URL,
		BookSourceName:  "Test site",
		BookSourceGroup: "玄幻",
		Enabled:         true,
		EnabledExplore:  true,
		SearchURL:       "/search?q={{key}}",
		RuleSearch:      entity.SearchRule{BookList: ".item", Name: ".title", BookURL: ".title"},
		RuleBookInfo:    entity.BookInfoRule{Name: "h1", TocURL: "a.toc"},
		RuleToc:         entity.TocRule{ChapterList: "#list li", ChapterName: "a", ChapterURL: "a"},
		RuleContent:     entity.ContentRule{Content: "#content", ReplaceRegex: "广告::"},
	}
}

func q(v string) string { return url.QueryEscape(v) }

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/api/health", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Errorf("got %d %s", resp.StatusCode, body)
	}
}

func TestSourceLifecycle(t *testing.T) {
	s := newTestServer(t)
	src := s.source()

	resp, body := s.do(t, http.MethodPost, "/api/sources", src)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add: %d %s", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodGet, "/api/sources/one?url="+q(src.BookSourceURL), nil)
	var got entity.BookSource
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &got) != nil || got.BookSourceName != "Test site" {
		t.Fatalf("get: %d %s", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodGet, "/api/sources/groups", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "玄幻") {
		t.Errorf("groups: %d %s", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodPatch, "/api/sources", map[string]any{"bookSourceUrl": src.BookSourceURL, "weight": 5})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"weight":5`) {
		t.Errorf("update: %d %s", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodPost, "/api/sources/toggle?url="+q(src.BookSourceURL), nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"enabled":false`) {
		t.Errorf("toggle: %d %s", resp.StatusCode, body)
	}

	resp, _ = s.do(t, http.MethodDelete, "/api/sources?url="+q(src.BookSourceURL), nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete: %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodDelete, "/api/sources?url="+q(src.BookSourceURL), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: %d", resp.StatusCode)
	}

	resp, body = s.do(t, http.MethodGet, "/api/sources", nil)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("list: %d %s", resp.StatusCode, body)
	}
}

func TestSourceErrors(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		method, path string
		body         any
		want         int
	}{
		{http.MethodPost, "/api/sources", "{not json", http.StatusBadRequest},
		{http.MethodPost, "/api/sources", map[string]any{"bookSourceUrl": "http://x.test"}, http.StatusBadRequest},
		{http.MethodPatch, "/api/sources", map[string]any{"bookSourceUrl": "http://missing.test"}, http.StatusNotFound},
		{http.MethodGet, "/api/sources/one", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/sources/one?url=http%3A%2F%2Fmissing.test", nil, http.StatusNotFound},
		{http.MethodPost, "/api/sources/import", "hello", http.StatusBadRequest},
		{http.MethodGet, "/api/search", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, body := s.do(t, tc.method, tc.path, tc.body)
		if resp.StatusCode != tc.want {
			t.Errorf("%s %s: got %d, want %d (%s)", tc.method, tc.path, resp.StatusCode, tc.want, body)
		}
	}
}

func TestReadingFlow(t *testing.T) {
	s := newTestServer(t)
	src := s.source()
	if resp, body := s.do(t, http.MethodPost, "/api/sources", src); resp.StatusCode != http.StatusCreated {
		t.Fatalf("add: %d %s", resp.StatusCode, body)
	}
	source := "source=" + q(src.BookSourceURL)

	resp, body := s.do(t, http.MethodGet, "/api/search?"+source+"&key="+q("斗破"), nil)
	var search struct {
		Books []entity.SearchBook `json:"books"`
	}
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &search) != nil || len(search.Books) != 1 {
		t.Fatalf("search: %d %s", resp.StatusCode, body)
	}
	if search.Books[0].Name != "斗破" || search.Books[0].BookURL != s.site.URL+"/book/1" {
		t.Errorf("search result: %+v", search.Books[0])
	}

	resp, body = s.do(t, http.MethodGet, "/api/book?"+source+"&url="+q(search.Books[0].BookURL), nil)
	var info entity.BookInfo
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &info) != nil || info.TocURL != s.site.URL+"/toc/1" {
		t.Fatalf("book: %d %s", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodGet, "/api/toc?"+source+"&url="+q(info.TocURL), nil)
	var chapters []entity.Chapter
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &chapters) != nil || len(chapters) != 1 {
		t.Fatalf("toc: %d %s", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodGet, "/api/content?"+source+"&url="+q(chapters[0].URL), nil)
	var content entity.ChapterContent
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &content) != nil || content.Content != "正文\n" {
		t.Fatalf("content: %d %s", resp.StatusCode, body)
	}

	// Multi-source search over enabled sources.
	resp, body = s.do(t, http.MethodGet, "/api/search?key=x&group="+q("玄幻"), nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"failures":[]`) {
		t.Errorf("search all: %d %s", resp.StatusCode, body)
	}

	resp, _ = s.do(t, http.MethodGet, "/api/content?"+source+"&url="+q(s.site.URL+"/missing"), nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("upstream 404: got %d", resp.StatusCode)
	}
}

func TestImportExport(t *testing.T) {
	s := newTestServer(t)

	doc := `[{"bookSourceUrl":"http://a.test","bookSourceName":"A","ruleSearch":{}},{"bookSourceName":"bad"}]`
	resp, body := s.do(t, http.MethodPost, "/api/sources/import", doc)
	var report usecase.ImportReport
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &report) != nil {
		t.Fatalf("import: %d %s", resp.StatusCode, body)
	}
	if len(report.Imported) != 1 || len(report.Skipped) != 1 {
		t.Errorf("report: %+v", report)
	}

	resp, body = s.do(t, http.MethodGet, "/api/sources/export", nil)
	var exported []entity.BookSource
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &exported) != nil || len(exported) != 1 {
		t.Fatalf("export: %d %s", resp.StatusCode, body)
	}
	if exported[0].ID != "" {
		t.Error("export leaks store ids")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/health", nil)

	resp, body := s.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `path="/api/health"`) {
		t.Errorf("request metrics missing route label:\n%s", body)
	}
}
