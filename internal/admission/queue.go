package admission

import (
	"errors"
	"sync/atomic"
)

// ErrQueueDepthExceeded is returned by Queue.Enter when admitting the request
// would exceed the configured maximum queue depth.
var ErrQueueDepthExceeded = errors.New("admission: queue depth exceeded")

// Queue tracks the number of requests currently admitted past the queue-
// depth gate, bounded by Max.
type Queue struct {
	depth atomic.Int64
	Max   int
}

// NewQueue returns a Queue bounded at max.
func NewQueue(max int) *Queue {
	return &Queue{Max: max}
}

// Enter atomically increments the queue depth; if that exceeds Max it
// decrements back and returns ErrQueueDepthExceeded. On success it returns a
// guard whose Release must be called exactly once, on every exit path,
// including early returns.
func (q *Queue) Enter() (*QueueGuard, error) {
	depth := q.depth.Add(1)
	if q.Max > 0 && depth > int64(q.Max) {
		q.depth.Add(-1)
		return nil, ErrQueueDepthExceeded
	}
	return &QueueGuard{q: q}, nil
}

// Depth returns the current queue depth, for observability.
func (q *Queue) Depth() int64 {
	return q.depth.Load()
}

// QueueGuard releases its queue slot exactly once.
type QueueGuard struct {
	q        *Queue
	released atomic.Bool
}

// Release decrements the queue depth. Safe to call more than once.
func (g *QueueGuard) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.q.depth.Add(-1)
	}
}
