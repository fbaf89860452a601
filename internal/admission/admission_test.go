package admission

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bijux/atlas-cache/internal/genequery"
)

func TestQueue_overflowRejectsAndReleases(t *testing.T) {
	q := NewQueue(2)
	g1, err := q.Enter()
	if err != nil {
		t.Fatal(err)
	}
	g2, err := q.Enter()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enter(); err != ErrQueueDepthExceeded {
		t.Fatalf("expected ErrQueueDepthExceeded, got %v", err)
	}

	g1.Release()
	g3, err := q.Enter()
	if err != nil {
		t.Fatalf("expected a slot after release, got %v", err)
	}
	g3.Release()
	g2.Release()

	// Release is idempotent: double-release must not free a phantom slot.
	g2.Release()
	if q.Depth() != 0 {
		t.Fatalf("depth = %d after all releases, want 0", q.Depth())
	}
}

func TestBulkheads_saturationPerClass(t *testing.T) {
	b := NewBulkheads(1, 1, 1)
	release, ok := b.TryAcquire(genequery.Heavy)
	if !ok {
		t.Fatal("expected first heavy acquire to succeed")
	}
	if _, ok := b.TryAcquire(genequery.Heavy); ok {
		t.Fatal("expected second heavy acquire to fail")
	}
	// Other classes are independent bulkheads.
	if _, ok := b.TryAcquire(genequery.Cheap); !ok {
		t.Fatal("cheap class should be unaffected by heavy saturation")
	}
	release()
	if _, ok := b.TryAcquire(genequery.Heavy); !ok {
		t.Fatal("expected heavy acquire to succeed after release")
	}
}

func TestHotCache_ttlExpiry(t *testing.T) {
	c := NewHotCache(time.Second, 4)
	key := HotCacheKey{Route: "/v1/genes", Dataset: "110/homo_sapiens/GRCh38", Fingerprint: "a=1", Epoch: "e1"}
	now := time.Now()
	c.Put(key, []byte("body"), now)

	if _, ok := c.Get(key, now.Add(500*time.Millisecond)); !ok {
		t.Fatal("expected hit before TTL")
	}
	if _, ok := c.Get(key, now.Add(2*time.Second)); ok {
		t.Fatal("expected miss after TTL")
	}
}

func TestHotCache_capacityEvictsOldestFirst(t *testing.T) {
	c := NewHotCache(time.Minute, 2)
	now := time.Now()
	k1 := HotCacheKey{Route: "r", Fingerprint: "1"}
	k2 := HotCacheKey{Route: "r", Fingerprint: "2"}
	k3 := HotCacheKey{Route: "r", Fingerprint: "3"}
	c.Put(k1, []byte("1"), now)
	c.Put(k2, []byte("2"), now)
	c.Put(k3, []byte("3"), now)

	if _, ok := c.Get(k1, now); ok {
		t.Fatal("expected oldest entry to be evicted at capacity")
	}
	if _, ok := c.Get(k2, now); !ok {
		t.Fatal("expected second entry to survive")
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
}

func TestHotCache_epochChangeMisses(t *testing.T) {
	c := NewHotCache(time.Minute, 4)
	now := time.Now()
	c.Put(HotCacheKey{Route: "r", Fingerprint: "f", Epoch: "old"}, []byte("x"), now)
	if _, ok := c.Get(HotCacheKey{Route: "r", Fingerprint: "f", Epoch: "new"}, now); ok {
		t.Fatal("a lookup under a new catalog epoch must miss")
	}
}

func TestCoalescer_concurrentCallersShareOneComputation(t *testing.T) {
	c := NewCoalescer()
	started := make(chan struct{})
	proceed := make(chan struct{})
	var computations int

	var wg sync.WaitGroup
	results := make([][]byte, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, _ = c.Do("k", func() ([]byte, error) {
			computations++
			close(started)
			<-proceed
			return []byte("shared"), nil
		})
	}()
	<-started

	for i := 1; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			val, _, joined := c.Join("k")
			if !joined {
				val, _, _ = c.Do("k", func() ([]byte, error) {
					computations++
					return []byte("shared"), nil
				})
			}
			results[i] = val
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	close(proceed)
	wg.Wait()

	if computations != 1 {
		t.Fatalf("expected one computation, ran %d", computations)
	}
	for i, r := range results {
		if string(r) != "shared" {
			t.Fatalf("caller %d got %q", i, r)
		}
	}
}

func TestCoalescer_joinMissesWhenNothingInFlight(t *testing.T) {
	c := NewCoalescer()
	if _, _, joined := c.Join("absent"); joined {
		t.Fatal("Join must report false with no in-flight computation")
	}
}

func TestCoalescer_errorReturnedToCaller(t *testing.T) {
	c := NewCoalescer()
	want := errors.New("compute failed")
	_, err, _ := c.Do("k", func() ([]byte, error) { return nil, want })
	if err != want {
		t.Fatalf("got %v, want %v", err, want)
	}
}

func TestShedPolicy_shedsMediumAndHeavyNotCheap(t *testing.T) {
	p := NewShedPolicy(100, 5, 250, 5000)
	for i := 0; i < 5; i++ {
		p.RecordHeavyLatency(200 * time.Millisecond)
	}
	if !p.ShouldShed(genequery.Heavy) {
		t.Fatal("expected heavy to be shed above threshold")
	}
	if !p.ShouldShed(genequery.Medium) {
		t.Fatal("expected medium to be shed above threshold")
	}
	if p.ShouldShed(genequery.Cheap) {
		t.Fatal("cheap must never be shed")
	}
	if p.BackoffMs() < 250 {
		t.Fatalf("backoff below base: %d", p.BackoffMs())
	}
}

func TestShedPolicy_requiresSampleFloor(t *testing.T) {
	p := NewShedPolicy(100, 5, 250, 5000)
	for i := 0; i < 4; i++ {
		p.RecordHeavyLatency(500 * time.Millisecond)
	}
	if p.ShouldShed(genequery.Heavy) {
		t.Fatal("must not shed below the minimum sample floor")
	}
}

func TestRequestIDs_propagationOrder(t *testing.T) {
	var r RequestIDs
	if got := r.Propagate("client-id", "tp"); got != "client-id" {
		t.Fatalf("explicit header wins, got %q", got)
	}
	if got := r.Propagate("", "00-abc-def-01"); got != "trace-00-abc-def-01" {
		t.Fatalf("traceparent fallback, got %q", got)
	}
	synth := r.Propagate("", "")
	if !strings.HasPrefix(synth, "req-") {
		t.Fatalf("synthesized id should have req- prefix, got %q", synth)
	}
	if again := r.Propagate("", ""); again == synth {
		t.Fatal("synthesized ids must be unique")
	}
}
