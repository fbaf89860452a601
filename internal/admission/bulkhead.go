package admission

import "github.com/bijux/atlas-cache/internal/genequery"

// bulkhead is a non-blocking counting semaphore: tryAcquire either returns
// a release func or reports saturation immediately, never blocking the
// caller. Same channel-as-semaphore shape as the per-host download limiter
// in internal/httpclient/hostsem.go.
type bulkhead chan struct{}

func newBulkhead(capacity int) bulkhead {
	if capacity < 1 {
		capacity = 1
	}
	return make(bulkhead, capacity)
}

func (b bulkhead) tryAcquire() (release func(), ok bool) {
	select {
	case b <- struct{}{}:
		return func() { <-b }, true
	default:
		return nil, false
	}
}

// Bulkheads holds the three per-class admission semaphores.
type Bulkheads struct {
	cheap  bulkhead
	medium bulkhead
	heavy  bulkhead
}

// NewBulkheads returns per-class semaphores sized from configuration.
func NewBulkheads(cheap, medium, heavy int) *Bulkheads {
	return &Bulkheads{
		cheap:  newBulkhead(cheap),
		medium: newBulkhead(medium),
		heavy:  newBulkhead(heavy),
	}
}

// TryAcquire attempts to acquire one permit of the semaphore for class.
func (b *Bulkheads) TryAcquire(class genequery.Class) (release func(), ok bool) {
	switch class {
	case genequery.Cheap:
		return b.cheap.tryAcquire()
	case genequery.Medium:
		return b.medium.tryAcquire()
	default:
		return b.heavy.tryAcquire()
	}
}
