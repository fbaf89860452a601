// Package metrics exposes the dataset cache manager's and admission
// controller's counters, gauges, and histograms through a Prometheus
// registry, reachable at GET /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache holds every metric the dataset cache manager records.
type Cache struct {
	DatasetHits    prometheus.Counter
	DatasetMisses  prometheus.Counter
	DatasetCount   prometheus.Gauge
	DiskUsageBytes prometheus.Gauge

	StoreDownloadLatency           prometheus.Histogram
	StoreOpenLatency               prometheus.Histogram
	StoreDownloadFailures          prometheus.Counter
	StoreOpenFailures              prometheus.Counter
	StoreBreakerOpenTotal          prometheus.Counter
	StoreRetryBudgetExhaustedTotal prometheus.Counter

	VerifyMarkerFastPathHits prometheus.Counter
	VerifyFullHashChecks     prometheus.Counter
	DatasetEvictedTotal      prometheus.Counter
	ReverifyFailedTotal      prometheus.Counter
}

// Request holds every metric the admission controller records per request.
type Request struct {
	RequestsTotal         *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
	SqliteLatency         *prometheus.HistogramVec
	ShedTotal             *prometheus.CounterVec
	BulkheadRejectedTotal *prometheus.CounterVec
	HotCacheHits          prometheus.Counter
	HotCacheMisses        prometheus.Counter
	Coalesced             prometheus.Counter
}

// Registry bundles a Prometheus registerer with the two metric groups and an
// HTTP handler for the exposition endpoint.
type Registry struct {
	reg     *prometheus.Registry
	Cache   *Cache
	Request *Request
}

// NewRegistry constructs and registers every metric named in this package.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := func(opts prometheus.CounterOpts) prometheus.Counter {
		c := prometheus.NewCounter(opts)
		reg.MustRegister(c)
		return c
	}
	gaugeFactory := func(opts prometheus.GaugeOpts) prometheus.Gauge {
		g := prometheus.NewGauge(opts)
		reg.MustRegister(g)
		return g
	}
	histFactory := func(opts prometheus.HistogramOpts) prometheus.Histogram {
		h := prometheus.NewHistogram(opts)
		reg.MustRegister(h)
		return h
	}

	cache := &Cache{
		DatasetHits:    factory(prometheus.CounterOpts{Name: "atlas_cache_dataset_hits_total", Help: "ensure_cached calls resolved by the fast path."}),
		DatasetMisses:  factory(prometheus.CounterOpts{Name: "atlas_cache_dataset_misses_total", Help: "ensure_cached calls that required a full hash check or download."}),
		DatasetCount:   gaugeFactory(prometheus.GaugeOpts{Name: "atlas_cache_dataset_count", Help: "Currently cached dataset count."}),
		DiskUsageBytes: gaugeFactory(prometheus.GaugeOpts{Name: "atlas_cache_disk_usage_bytes", Help: "Sum of cached dataset artifact sizes."}),

		StoreDownloadLatency:           histFactory(prometheus.HistogramOpts{Name: "atlas_cache_store_download_latency_seconds", Help: "Latency of successful artifact downloads.", Buckets: prometheus.DefBuckets}),
		StoreOpenLatency:               histFactory(prometheus.HistogramOpts{Name: "atlas_cache_store_open_latency_seconds", Help: "Latency of read-only database handle opens.", Buckets: prometheus.DefBuckets}),
		StoreDownloadFailures:          factory(prometheus.CounterOpts{Name: "atlas_cache_store_download_failures_total", Help: "Artifact download failures, including checksum mismatches."}),
		StoreOpenFailures:              factory(prometheus.CounterOpts{Name: "atlas_cache_store_open_failures_total", Help: "Read-only database handle open failures."}),
		StoreBreakerOpenTotal:          factory(prometheus.CounterOpts{Name: "atlas_cache_store_breaker_open_total", Help: "Times the store circuit breaker tripped open."}),
		StoreRetryBudgetExhaustedTotal: factory(prometheus.CounterOpts{Name: "atlas_cache_store_retry_budget_exhausted_total", Help: "Downloads refused because the retry budget was exhausted."}),

		VerifyMarkerFastPathHits: factory(prometheus.CounterOpts{Name: "atlas_cache_verify_marker_fast_path_hits_total", Help: "Verifications resolved by the .verified marker without re-hashing."}),
		VerifyFullHashChecks:     factory(prometheus.CounterOpts{Name: "atlas_cache_verify_full_hash_checks_total", Help: "Verifications that required a full SHA-256 recompute."}),
		DatasetEvictedTotal:      factory(prometheus.CounterOpts{Name: "atlas_cache_dataset_evicted_total", Help: "Datasets removed by the eviction loop."}),
		ReverifyFailedTotal:      factory(prometheus.CounterOpts{Name: "atlas_cache_reverify_failed_total", Help: "Cached datasets dropped by strict re-verification."}),
	}

	counterVecFactory := func(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(opts, labels)
		reg.MustRegister(c)
		return c
	}
	histVecFactory := func(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
		h := prometheus.NewHistogramVec(opts, labels)
		reg.MustRegister(h)
		return h
	}

	req := &Request{
		RequestsTotal:         counterVecFactory(prometheus.CounterOpts{Name: "atlas_cache_http_requests_total", Help: "HTTP requests by route and status."}, []string{"route", "status"}),
		RequestDuration:       histVecFactory(prometheus.HistogramOpts{Name: "atlas_cache_http_request_duration_seconds", Help: "HTTP request latency by route.", Buckets: prometheus.DefBuckets}, []string{"route"}),
		SqliteLatency:         histVecFactory(prometheus.HistogramOpts{Name: "atlas_cache_sqlite_query_duration_seconds", Help: "SQLite query latency by admission class.", Buckets: prometheus.DefBuckets}, []string{"class"}),
		ShedTotal:             counterVecFactory(prometheus.CounterOpts{Name: "atlas_cache_shed_total", Help: "Requests shed by the heavy-latency shedding policy, by class."}, []string{"class"}),
		BulkheadRejectedTotal: counterVecFactory(prometheus.CounterOpts{Name: "atlas_cache_bulkhead_rejected_total", Help: "Requests rejected by a saturated per-class semaphore, by class."}, []string{"class"}),
		HotCacheHits:          factory(prometheus.CounterOpts{Name: "atlas_cache_hot_cache_hits_total", Help: "Hot response cache hits."}),
		HotCacheMisses:        factory(prometheus.CounterOpts{Name: "atlas_cache_hot_cache_misses_total", Help: "Hot response cache misses."}),
		Coalesced:             factory(prometheus.CounterOpts{Name: "atlas_cache_coalesced_total", Help: "Requests that joined an in-flight single-flight computation instead of starting a new one."}),
	}

	return &Registry{reg: reg, Cache: cache, Request: req}
}

// Handler returns the Prometheus exposition HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
