// Package metrics defines the Prometheus collectors for the snippet index and
// exposes an HTTP handler for scraping. Each Metrics value owns its registry,
// so several indexes (and tests) can coexist in one process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	SnippetsIngested     *prometheus.CounterVec
	IngestLatency        prometheus.Histogram
	SegmentSeals         *prometheus.CounterVec
	Compactions          *prometheus.CounterVec
	CompactionDuration   prometheus.Histogram
	Segments             *prometheus.GaugeVec
	LiveDocuments        prometheus.Gauge
	ActiveSegmentDocs    prometheus.Gauge
	Degraded             prometheus.Gauge
}

// New creates all collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, parse_error, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		SnippetsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snippets_ingested_total",
				Help: "Snippet records processed by outcome (inserted, superseded, duplicate, ignored, rejected, failed).",
			},
			[]string{"outcome"},
		),
		IngestLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "snippet_ingest_duration_seconds",
				Help:    "Time to analyze, fingerprint and commit one snippet.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
			},
		),
		SegmentSeals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_segment_seals_total",
				Help: "Active segment seal operations by status.",
			},
			[]string{"status"},
		),
		Compactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_compactions_total",
				Help: "Compaction rounds by status.",
			},
			[]string{"status"},
		),
		CompactionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_compaction_duration_seconds",
				Help:    "Wall time of a compaction round from planning to install.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		Segments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_segments",
				Help: "Number of segments by state (sealed, quarantined).",
			},
			[]string{"state"},
		),
		LiveDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_live_documents",
				Help: "Documents visible to queries.",
			},
		),
		ActiveSegmentDocs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_active_segment_documents",
				Help: "Documents in the mutable active segment.",
			},
		),
		Degraded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_degraded",
				Help: "1 when at least one segment is quarantined.",
			},
		),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SnippetsIngested,
		m.IngestLatency,
		m.SegmentSeals,
		m.Compactions,
		m.CompactionDuration,
		m.Segments,
		m.LiveDocuments,
		m.ActiveSegmentDocs,
		m.Degraded,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
