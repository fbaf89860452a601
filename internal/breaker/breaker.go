// Package breaker implements the per-dataset and store circuit breakers and
// the store retry budget. Breakers are bounded state machines
// {closed, open-until(t)} that refuse work for a cool-down after a failure
// streak; the retry budget is a saturating counter that refuses downloads
// once exhausted without tripping a breaker.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/bijux/atlas-cache/internal/datasetid"
)

// ErrOpen is returned by Check when the breaker is currently open.
var ErrOpen = errors.New("breaker: circuit open")

// ErrBudgetExhausted is returned when the store retry budget is at zero. It
// is distinct from ErrOpen: refusing to download because the budget is zero
// does not itself count as a breaker failure.
var ErrBudgetExhausted = errors.New("breaker: store retry budget exhausted")

type state struct {
	failureCount int
	openUntil    time.Time
}

func (s *state) isOpen(now time.Time) bool {
	return !s.openUntil.IsZero() && now.Before(s.openUntil)
}

// PerDatasetBreaker tracks one breaker per dataset. A recorded open failure
// increments the dataset's failure count; reaching the configured threshold
// opens the breaker for OpenDuration. A successful open resets it.
type PerDatasetBreaker struct {
	mu        sync.Mutex
	states    map[datasetid.ID]*state
	Threshold int
	OpenFor   time.Duration
}

// NewPerDatasetBreaker returns a breaker that opens after threshold
// consecutive failures for openFor.
func NewPerDatasetBreaker(threshold int, openFor time.Duration) *PerDatasetBreaker {
	return &PerDatasetBreaker{
		states:    make(map[datasetid.ID]*state),
		Threshold: threshold,
		OpenFor:   openFor,
	}
}

func (b *PerDatasetBreaker) entry(id datasetid.ID) *state {
	s, ok := b.states[id]
	if !ok {
		s = &state{}
		b.states[id] = s
	}
	return s
}

// Check returns ErrOpen if the breaker for id is currently open, nil otherwise.
func (b *PerDatasetBreaker) Check(id datasetid.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entry(id).isOpen(time.Now()) {
		return ErrOpen
	}
	return nil
}

// RecordFailure records an open failure for id, opening the breaker if the
// failure count reaches Threshold.
func (b *PerDatasetBreaker) RecordFailure(id datasetid.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.entry(id)
	s.failureCount++
	if s.failureCount >= b.Threshold {
		s.openUntil = time.Now().Add(b.OpenFor)
	}
}

// Reset clears the failure count and open state for id, called after a
// successful connection open.
func (b *PerDatasetBreaker) Reset(id datasetid.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.entry(id)
	s.failureCount = 0
	s.openUntil = time.Time{}
}

// StoreBreaker is the single breaker guarding the upstream artifact store,
// independent of every per-dataset breaker: store failures affect every
// dataset but never trip a per-dataset breaker, and vice versa.
type StoreBreaker struct {
	mu        sync.Mutex
	st        state
	Threshold int
	OpenFor   time.Duration

	// OnTrip, if set, is called (without the lock held) each time the
	// breaker transitions from closed to open.
	OnTrip func()
}

// NewStoreBreaker returns a store breaker that opens after threshold
// consecutive failures for openFor.
func NewStoreBreaker(threshold int, openFor time.Duration) *StoreBreaker {
	return &StoreBreaker{Threshold: threshold, OpenFor: openFor}
}

// Check returns ErrOpen if the store breaker is currently open.
func (b *StoreBreaker) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st.isOpen(time.Now()) {
		return ErrOpen
	}
	return nil
}

// RecordFailure records a store-download failure, opening the breaker if the
// failure count reaches Threshold. Returns true if this call tripped the
// breaker open.
func (b *StoreBreaker) RecordFailure() (tripped bool) {
	b.mu.Lock()
	b.st.failureCount++
	if b.st.failureCount >= b.Threshold {
		now := time.Now()
		wasOpen := b.st.isOpen(now)
		b.st.openUntil = now.Add(b.OpenFor)
		tripped = !wasOpen
	}
	b.mu.Unlock()
	if tripped && b.OnTrip != nil {
		b.OnTrip()
	}
	return tripped
}

// Reset clears the store breaker's failure count and open state, called
// after a successful download.
func (b *StoreBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.st.failureCount = 0
	b.st.openUntil = time.Time{}
}

// RetryBudget is a non-negative counter bounding store-download attempts.
// Each failure decrements it, saturating at zero; a success resets it to Max.
type RetryBudget struct {
	mu        sync.Mutex
	remaining int
	Max       int
}

// NewRetryBudget returns a budget initialized to max.
func NewRetryBudget(max int) *RetryBudget {
	return &RetryBudget{remaining: max, Max: max}
}

// Check returns ErrBudgetExhausted if the budget is at zero.
func (r *RetryBudget) Check() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remaining <= 0 {
		return ErrBudgetExhausted
	}
	return nil
}

// RecordFailure decrements the remaining budget, saturating at zero.
func (r *RetryBudget) RecordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remaining > 0 {
		r.remaining--
	}
}

// Reset restores the budget to Max, called after a successful download.
func (r *RetryBudget) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = r.Max
}

// Remaining returns the current remaining budget, for observability.
func (r *RetryBudget) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining
}
