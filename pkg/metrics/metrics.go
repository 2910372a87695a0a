package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	FetchesTotal        *prometheus.CounterVec
	FetchDuration       *prometheus.HistogramVec
	ExtractionMisses    *prometheus.CounterVec
	PageCacheTotal      *prometheus.CounterVec
	RegistrySources     prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		FetchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booksource_fetches_total",
				Help: "Total number of interpreter operations by outcome.",
			},
			[]string{"operation", "outcome"}, // outcome: success, network, parse
		),
		FetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booksource_fetch_duration_seconds",
				Help:    "Duration of page fetches.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			},
			[]string{"domain"},
		),
		ExtractionMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booksource_extraction_misses_total",
				Help: "Selectors that failed to compile or matched nothing.",
			},
			[]string{"field"},
		),
		PageCacheTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booksource_page_cache_total",
				Help: "Page cache lookups by result.",
			},
			[]string{"result"}, // hit, miss, error
		),
		RegistrySources: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "booksource_registry_sources",
				Help: "Current number of book sources in the registry.",
			},
		),
	}
}

func (m *Metrics) ObserveHTTPRequest(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}

func (m *Metrics) IncFetch(operation, outcome string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveFetchDuration(domain string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(domain).Observe(d.Seconds())
}

func (m *Metrics) IncExtractionMiss(field string) {
	if m == nil {
		return
	}
	m.ExtractionMisses.WithLabelValues(field).Inc()
}

func (m *Metrics) IncPageCache(result string) {
	if m == nil {
		return
	}
	m.PageCacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetRegistrySources(n int) {
	if m == nil {
		return
	}
	m.RegistrySources.Set(float64(n))
}
