package httpapi

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bijux/atlas-cache/internal/admission"
	"github.com/bijux/atlas-cache/internal/config"
	"github.com/bijux/atlas-cache/internal/datasetcache"
	"github.com/bijux/atlas-cache/internal/metrics"
)

// Server bundles the dataset cache manager with the admission controller's
// gates and exposes the read-only HTTP surface. The draining and ready flags
// are its only process-wide mutable state.
type Server struct {
	cfg     *config.ApiConfig
	manager *datasetcache.Manager
	metrics *metrics.Registry

	queue      *admission.Queue
	bulkheads  *admission.Bulkheads
	shed       *admission.ShedPolicy
	hotCache   *admission.HotCache
	coalescer  *admission.Coalescer
	requestIDs *admission.RequestIDs

	draining atomic.Bool
	ready    atomic.Bool

	startedAt time.Time
}

// NewServer wires a Server from its dependencies. The server starts
// accepting requests (draining=false) but not ready; callers should set
// SetReady(true) once startup warmup and the first catalog refresh succeed.
func NewServer(cfg *config.ApiConfig, manager *datasetcache.Manager, reg *metrics.Registry) *Server {
	s := &Server{
		cfg:        cfg,
		manager:    manager,
		metrics:    reg,
		queue:      admission.NewQueue(cfg.MaxRequestQueueDepth),
		bulkheads:  admission.NewBulkheads(cfg.ConcurrencyCheap, cfg.ConcurrencyMedium, cfg.ConcurrencyHeavy),
		shed:       admission.NewShedPolicy(cfg.HeavyShedThresholdMs, cfg.HeavyShedMinSamples, cfg.HeavyBackoffBaseMs, cfg.HeavyBackoffMaxMs),
		hotCache:   admission.NewHotCache(2*time.Second, 512),
		coalescer:  admission.NewCoalescer(),
		requestIDs: &admission.RequestIDs{},
		startedAt:  time.Now(),
	}
	return s
}

// SetDraining flips the process-wide draining flag: once set, the
// admission-gated routes and /v1/datasets reject new work with
// QueryRejectedByPolicy; /healthz, /readyz, the landing page and /metrics
// do not check it.
func (s *Server) SetDraining(v bool) { s.draining.Store(v) }

// SetReady flips the process-wide readiness flag consulted by /readyz.
func (s *Server) SetReady(v bool) { s.ready.Store(v) }

// Handler returns the server's full HTTP handler: the route mux behind
// request-id echoing and the request-body size cap. Every response carries
// x-request-id, including parse failures rejected before the admission
// gates run.
func (s *Server) Handler() http.Handler {
	mux := s.Mux()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := s.requestIDs.Propagate(r.Header.Get("x-request-id"), r.Header.Get("traceparent"))
		w.Header().Set("x-request-id", reqID)
		if s.cfg.MaxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		}
		mux.ServeHTTP(w, r)
	})
}

// Mux builds the http.ServeMux for every route the server exposes.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /healthz/overload", s.handleHealthzOverload)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/datasets", s.handleDatasets)
	mux.HandleFunc("GET /v1/releases/{release}/species/{species}/assemblies/{assembly}", s.handleDatasetDetail)
	mux.HandleFunc("GET /v1/genes", s.handleGenes)
	mux.HandleFunc("GET /v1/genes/count", s.handleGeneCount)
	mux.HandleFunc("GET /v1/genes/{id}/transcripts", s.handleGeneTranscripts)
	mux.HandleFunc("GET /v1/transcripts/{id}", s.handleTranscript)
	mux.HandleFunc("GET /", s.handleLanding)

	if s.cfg.EnableDebugDatasets {
		mux.HandleFunc("GET /debug/datasets", s.handleDebugDatasets)
		mux.HandleFunc("GET /debug/dataset-health", s.handleDebugDatasetHealth)
	}

	mux.Handle("GET /metrics", s.metrics.Handler())

	return mux
}
