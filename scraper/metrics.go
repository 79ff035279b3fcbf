package scraper

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ItemsScrapedTotal prometheus.Counter
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	ProxiedTotal      prometheus.Counter
	HeaderInjections  *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_scraped_total",
			Help: "Total number of items sent to the pipeline.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)

	proxied := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_proxied_requests_total",
			Help: "Total number of requests rewritten to the proxy API.",
		},
	)
	headerInjections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_header_injections_total",
			Help: "Total number of requests that received a fake header set.",
		},
		[]string{"source"},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, retries, errorsTotal, proxied, headerInjections)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ItemsScrapedTotal: itemsScraped,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		ProxiedTotal:      proxied,
		HeaderInjections:  headerInjections,
	}
}

// tally mirrors a Prometheus counter into a local count that the run
// summary can read.
type tally struct {
	prometheus.Counter
	n atomic.Int64
}

func newTally(c prometheus.Counter) *tally {
	return &tally{Counter: c}
}

func (t *tally) Inc() {
	t.n.Add(1)
	if t.Counter != nil {
		t.Counter.Inc()
	}
}

func (t *tally) Load() int64 {
	return t.n.Load()
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// HeaderInjectionCounter returns the counter for one header source.
func (m *Metrics) HeaderInjectionCounter(source string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.HeaderInjections.WithLabelValues(source)
}

// IncItems increments the items scraped counter.
func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
