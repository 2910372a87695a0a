package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/booksource-service/internal/delivery/http/handler"
	"github.com/user/booksource-service/internal/delivery/http/middleware"
	"github.com/user/booksource-service/pkg/metrics"
	"go.uber.org/zap"
)

// Options carries the cross-cutting dependencies of the router.
type Options struct {
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // served at /metrics; nil uses the default registry
	Timeout  time.Duration       // per request; 0 means 60s
}

func New(h *handler.Handler, opts Options) http.Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(opts.Logger))
	r.Use(middleware.Metrics(opts.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(opts.Timeout))

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/api/health", h.HandleHealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", h.HandleListSources)
			r.Post("/", h.HandleAddSource)
			r.Patch("/", h.HandleUpdateSource)
			r.Delete("/", h.HandleDeleteSource)
			r.Get("/groups", h.HandleListGroups)
			r.Get("/one", h.HandleGetSource)
			r.Post("/toggle", h.HandleToggleSource)
			r.Post("/import", h.HandleImport)
			r.Get("/export", h.HandleExport)
		})

		r.Get("/search", h.HandleSearch)
		r.Get("/explore", h.HandleExploreEntries)
		r.Get("/explore/books", h.HandleExplore)
		r.Get("/book", h.HandleBookInfo)
		r.Get("/toc", h.HandleChapterList)
		r.Get("/content", h.HandleContent)
	})

	return r
}
