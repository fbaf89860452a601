package admission

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bijux/atlas-cache/internal/genequery"
)

// shedSampleWindow bounds how many recent heavy SQLite latencies feed the
// rolling p95 estimator.
const shedSampleWindow = 512

// ShedPolicy tracks a rolling p95 of heavy-class SQLite query latencies and
// decides whether non-cheap requests should be shed, with an escalating
// backoff while the system stays overloaded.
type ShedPolicy struct {
	mu      sync.Mutex
	samples [shedSampleWindow]int64
	next    int
	filled  int

	ThresholdMs   int64
	MinSamples    int
	BackoffBaseMs int64
	BackoffMaxMs  int64

	// limiter escalates the backoff the longer shedding persists: each
	// depleted token pushes the next backoff toward BackoffMaxMs, and
	// refilling (pressure easing) drops it back to BackoffBaseMs.
	limiter *rate.Limiter
}

// NewShedPolicy returns a policy with the given threshold, minimum sample
// floor, and backoff bounds.
func NewShedPolicy(thresholdMs int64, minSamples int, backoffBaseMs, backoffMaxMs int64) *ShedPolicy {
	return &ShedPolicy{
		ThresholdMs:   thresholdMs,
		MinSamples:    minSamples,
		BackoffBaseMs: backoffBaseMs,
		BackoffMaxMs:  backoffMaxMs,
		limiter:       rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

// RecordHeavyLatency feeds one heavy-class SQLite query latency into the
// rolling window.
func (s *ShedPolicy) RecordHeavyLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[s.next] = d.Milliseconds()
	s.next = (s.next + 1) % shedSampleWindow
	if s.filled < shedSampleWindow {
		s.filled++
	}
}

// p95Ms returns the current rolling p95 in milliseconds and the sample count
// it was computed from.
func (s *ShedPolicy) p95Ms() (int64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filled == 0 {
		return 0, 0
	}
	sorted := make([]int64, s.filled)
	copy(sorted, s.samples[:s.filled])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted)*95)/100 - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx], s.filled
}

// ShouldShed reports whether class should be rejected under the current
// load: Cheap is never shed; Medium and Heavy are shed once the rolling p95
// reaches ThresholdMs over at least MinSamples observations.
func (s *ShedPolicy) ShouldShed(class genequery.Class) bool {
	if class == genequery.Cheap {
		return false
	}
	p95, n := s.p95Ms()
	return n >= s.MinSamples && p95 >= s.ThresholdMs
}

// BackoffMs returns the retry-after backoff, in milliseconds, to report for
// a shed request. It escalates toward BackoffMaxMs while overload persists
// and relaxes to BackoffBaseMs once the limiter has refilled.
func (s *ShedPolicy) BackoffMs() int64 {
	if s.limiter.Allow() {
		return s.BackoffBaseMs
	}
	return s.BackoffMaxMs
}

// Overloaded reports whether Heavy-class traffic is currently being shed, for
// the /healthz/overload probe.
func (s *ShedPolicy) Overloaded() bool {
	return s.ShouldShed(genequery.Heavy)
}
