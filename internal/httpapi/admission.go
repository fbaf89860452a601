package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bijux/atlas-cache/internal/admission"
	"github.com/bijux/atlas-cache/internal/breaker"
	"github.com/bijux/atlas-cache/internal/datasetcache"
	"github.com/bijux/atlas-cache/internal/genequery"
	"github.com/bijux/atlas-cache/internal/store"
)

// admit runs the layered gate sequence (drain, request-id, queue, hot cache,
// single-flight join, shedding, bulkhead) around compute, and writes
// compute's JSON body at 200 on success. route and dataset key the hot cache
// and coalescer; fingerprint is the normalized query string from
// genequery.NormalizeQuery.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, route string, class genequery.Class, dataset, fingerprint string, compute func(ctx context.Context) ([]byte, error)) {
	s.admitWithFinalize(w, r, route, class, dataset, fingerprint, compute, nil)
}

// admitWithFinalize is admit, but gives the caller a chance to inspect the
// successful body and write a custom response (conditional-GET ETag
// handling, extra cache headers) instead of the default writeCompressed.
// finalize returns true once it has written the response itself.
func (s *Server) admitWithFinalize(w http.ResponseWriter, r *http.Request, route string, class genequery.Class, dataset, fingerprint string, compute func(ctx context.Context) ([]byte, error), finalize func(w http.ResponseWriter, r *http.Request, body []byte) bool) {
	start := time.Now()
	// The outer Handler middleware normally sets this already; synthesize
	// here too so admit stays self-contained when driven directly.
	if w.Header().Get("x-request-id") == "" {
		reqID := s.requestIDs.Propagate(r.Header.Get("x-request-id"), r.Header.Get("traceparent"))
		w.Header().Set("x-request-id", reqID)
	}

	status := http.StatusOK
	defer func() {
		s.metrics.Request.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.metrics.Request.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}()

	if s.draining.Load() {
		status = http.StatusServiceUnavailable
		writeError(w, status, CodeQueryRejectedByPolicy, "service draining", nil)
		return
	}

	guard, err := s.queue.Enter()
	if err != nil {
		status = http.StatusTooManyRequests
		writeError(w, status, CodeQueryRejectedByPolicy, "queue depth exceeded", nil)
		return
	}
	defer guard.Release()

	epoch := s.manager.CatalogEpoch()
	key := admission.HotCacheKey{Route: route, Dataset: dataset, Fingerprint: fingerprint, Epoch: epoch}
	if body, ok := s.hotCache.Get(key, time.Now()); ok {
		s.metrics.Request.HotCacheHits.Inc()
		if finalize != nil && finalize(w, r, body) {
			return
		}
		writeCompressed(w, r, body, s.cfg)
		return
	}
	s.metrics.Request.HotCacheMisses.Inc()

	// Join an identical in-flight computation before the shedding and
	// bulkhead gates: a joiner does no work of its own, so it should not be
	// shed or consume a class permit.
	coalesceKey := route + "|" + dataset + "|" + fingerprint + "|" + epoch
	if body, joinErr, joined := s.coalescer.Join(coalesceKey); joined {
		s.metrics.Request.Coalesced.Inc()
		if joinErr != nil {
			status = s.writeComputeError(w, joinErr)
			return
		}
		if finalize != nil && finalize(w, r, body) {
			return
		}
		writeCompressed(w, r, body, s.cfg)
		return
	}

	if s.shed.ShouldShed(class) {
		status = http.StatusServiceUnavailable
		backoffMs := s.shed.BackoffMs()
		retryAfterSec := backoffMs / 1000
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
		w.Header().Set("retry-after", strconv.FormatInt(retryAfterSec, 10))
		s.metrics.Request.ShedTotal.WithLabelValues(class.String()).Inc()
		writeError(w, status, CodeQueryRejectedByPolicy, "shedding non-cheap requests under load", nil)
		return
	}

	release, ok := s.bulkheads.TryAcquire(class)
	if !ok {
		status = http.StatusTooManyRequests
		s.metrics.Request.BulkheadRejectedTotal.WithLabelValues(class.String()).Inc()
		writeError(w, status, CodeQueryRejectedByPolicy, "bulkhead saturated", nil)
		return
	}
	defer release()

	body, computeErr, shared := s.coalescer.Do(coalesceKey, func() ([]byte, error) {
		qStart := time.Now()
		b, err := compute(r.Context())
		if class == genequery.Heavy {
			s.shed.RecordHeavyLatency(time.Since(qStart))
		}
		s.metrics.Request.SqliteLatency.WithLabelValues(class.String()).Observe(time.Since(qStart).Seconds())
		return b, err
	})
	if shared {
		s.metrics.Request.Coalesced.Inc()
	}
	if computeErr != nil {
		status = s.writeComputeError(w, computeErr)
		return
	}

	s.hotCache.Put(key, body, time.Now())
	if finalize != nil && finalize(w, r, body) {
		return
	}
	writeCompressed(w, r, body, s.cfg)
}

// writeComputeError maps an error surfaced from a compute closure to one of
// the stable ApiErrorCodes and writes it, returning the status written for
// the caller's metrics label.
func (s *Server) writeComputeError(w http.ResponseWriter, err error) int {
	var cacheErr *store.CacheError
	switch {
	case errors.Is(err, datasetcache.ErrCachedOnlyMode):
		writeError(w, http.StatusServiceUnavailable, CodeNotReady, "cached-only mode: dataset not present", nil)
		return http.StatusServiceUnavailable
	case errors.Is(err, datasetcache.ErrReadOnlyFS):
		writeError(w, http.StatusServiceUnavailable, CodeNotReady, "read-only filesystem: dataset not present", nil)
		return http.StatusServiceUnavailable
	case errors.Is(err, breaker.ErrOpen):
		writeError(w, http.StatusServiceUnavailable, CodeQueryRejectedByPolicy, "circuit breaker open", nil)
		return http.StatusServiceUnavailable
	case errors.Is(err, breaker.ErrBudgetExhausted):
		writeError(w, http.StatusServiceUnavailable, CodeQueryRejectedByPolicy, "store retry budget exhausted", nil)
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, CodeNotReady, "dataset open timed out", nil)
		return http.StatusServiceUnavailable
	case errors.As(err, &cacheErr):
		writeError(w, http.StatusServiceUnavailable, CodeNotReady, cacheErr.Error(), nil)
		return http.StatusServiceUnavailable
	default:
		var badReq *badRequestError
		var notFound *notFoundError
		var missingDim *missingDimensionError
		if errors.As(err, &badReq) {
			writeError(w, http.StatusBadRequest, CodeInvalidQueryParameter, badReq.Error(), nil)
			return http.StatusBadRequest
		}
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, notFound.Error(), nil)
			return http.StatusNotFound
		}
		if errors.As(err, &missingDim) {
			writeError(w, http.StatusBadRequest, CodeMissingDatasetDimension, missingDim.Error(), nil)
			return http.StatusBadRequest
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
		return http.StatusInternalServerError
	}
}
