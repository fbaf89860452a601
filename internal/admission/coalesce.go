package admission

import "sync"

// Coalescer runs at most one computation per key at a time; concurrent
// callers sharing a key all observe the same result. Grounded in the
// dataset cache manager's per-dataset download single-flight mutex, applied
// here to whole-request computations instead of downloads.
type Coalescer struct {
	mu       sync.Mutex
	inflight map[string]*call
}

type call struct {
	wg  sync.WaitGroup
	val []byte
	err error
}

// NewCoalescer returns an empty Coalescer.
func NewCoalescer() *Coalescer {
	return &Coalescer{inflight: make(map[string]*call)}
}

// Join waits for and returns the result of an in-flight computation for key,
// if one exists. Callers that Join skip the downstream admission gates
// entirely: they do no work of their own, so they consume no shedding or
// bulkhead capacity.
func (c *Coalescer) Join(key string) (val []byte, err error, ok bool) {
	c.mu.Lock()
	existing, ok := c.inflight[key]
	c.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	existing.wg.Wait()
	return existing.val, existing.err, true
}

// Do runs fn for key if no computation for key is currently in flight,
// otherwise waits for and returns the in-flight computation's result.
// Returns shared true if this caller joined an existing computation rather
// than starting a new one.
func (c *Coalescer) Do(key string, fn func() ([]byte, error)) (val []byte, err error, shared bool) {
	c.mu.Lock()
	if existing, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		existing.wg.Wait()
		return existing.val, existing.err, true
	}
	cl := &call{}
	cl.wg.Add(1)
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.val, cl.err = fn()
	cl.wg.Done()

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	return cl.val, cl.err, false
}
