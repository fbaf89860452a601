// Package admission implements the admission controller: the layered
// gate sequence between the HTTP transport and the dataset cache manager —
// draining, request-id propagation, queue depth, query classification, hot
// response cache, single-flight coalescing, shedding, and per-class
// bulkheads.
package admission

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// RequestIDs synthesizes and propagates x-request-id values.
type RequestIDs struct {
	seed atomic.Uint64
}

// Propagate returns requestIDHeader if non-empty, else derives one from
// traceparentHeader, else synthesizes "req-<hex-counter>".
func (r *RequestIDs) Propagate(requestIDHeader, traceparentHeader string) string {
	if trimmed := strings.TrimSpace(requestIDHeader); trimmed != "" {
		return trimmed
	}
	if trimmed := strings.TrimSpace(traceparentHeader); trimmed != "" {
		return "trace-" + trimmed
	}
	return r.Make()
}

// Make synthesizes a fresh request id.
func (r *RequestIDs) Make() string {
	id := r.seed.Add(1)
	return fmt.Sprintf("req-%016x", id)
}
