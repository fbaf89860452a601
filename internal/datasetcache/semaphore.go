package datasetcache

import "context"

// semaphore is an owned counting semaphore: acquiring returns a release
// closure (nil when acquiring fails) that frees the slot and is called
// exactly once. Same channel-as-semaphore shape as the per-host
// download limiter in internal/httpclient/hostsem.go, but parameterized by
// capacity per use site (global pool, per-dataset pool, per-query-class
// pool) instead of per-host.
type semaphore chan struct{}

// newSemaphore returns a semaphore with capacity slots. capacity < 1 is
// treated as 1 so a misconfigured limit never creates an always-blocking
// semaphore.
func newSemaphore(capacity int) semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return make(semaphore, capacity)
}

// acquire blocks until a slot is free or ctx is done, returning a release
// func on success.
func (s semaphore) acquire(ctx context.Context) (func(), error) {
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// tryAcquire acquires a slot without blocking; ok is false if the semaphore
// is currently saturated.
func (s semaphore) tryAcquire() (release func(), ok bool) {
	select {
	case s <- struct{}{}:
		return func() { <-s }, true
	default:
		return nil, false
	}
}
