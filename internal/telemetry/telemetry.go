package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the dashboard service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	CacheHits      *prometheus.CounterVec
	CacheMisses    prometheus.Counter
	QueryDuration  *prometheus.HistogramVec
	QueryErrors    *prometheus.CounterVec
	IngestRows     *prometheus.CounterVec
	IngestRuns     *prometheus.CounterVec
	DedupUnmatched prometheus.Counter
	HTTPRequests   *prometheus.CounterVec
	HTTPLatency    *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Memoized results served from cache, by tier",
		}, []string{"tier"}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Memoized results computed because no tier had them",
		}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "warehouse_query_duration_seconds",
			Help:      "Warehouse query latency",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"query"}),
		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warehouse_query_errors_total",
			Help:      "Failed warehouse queries",
		}, []string{"query"}),
		IngestRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rows_total",
			Help:      "Rows accepted by the ingest run, by table",
		}, []string{"table"}),
		IngestRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Ingest runs by result",
		}, []string{"result"}),
		DedupUnmatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_unmatched_total",
			Help:      "Users whose launch rows had no row matching the canonical language/country",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheHit(tier string) {
	if m != nil {
		m.CacheHits.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

// ObserveQuery records latency and, when err is non-nil, an error for query.
func (m *Metrics) ObserveQuery(query string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	if err != nil {
		m.QueryErrors.WithLabelValues(query).Inc()
	}
}

func (m *Metrics) IngestedRows(table string, n int) {
	if m != nil {
		m.IngestRows.WithLabelValues(table).Add(float64(n))
	}
}

func (m *Metrics) IngestRun(result string) {
	if m != nil {
		m.IngestRuns.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Unmatched(n int) {
	if m != nil {
		m.DedupUnmatched.Add(float64(n))
	}
}

func (m *Metrics) ObserveHTTP(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, statusClass(status)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(d.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	}
	return "2xx"
}
