package breaker

import (
	"testing"
	"time"

	"github.com/bijux/atlas-cache/internal/datasetid"
)

func mustID(t *testing.T) datasetid.ID {
	t.Helper()
	id, err := datasetid.New("110", "homo_sapiens", "GRCh38")
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestPerDatasetBreaker_opensAfterThreshold(t *testing.T) {
	b := NewPerDatasetBreaker(3, 50*time.Millisecond)
	id := mustID(t)

	for i := 0; i < 2; i++ {
		b.RecordFailure(id)
		if err := b.Check(id); err != nil {
			t.Fatalf("breaker should stay closed before threshold, attempt %d: %v", i, err)
		}
	}
	b.RecordFailure(id)
	if err := b.Check(id); err != ErrOpen {
		t.Fatalf("breaker should be open at threshold, got %v", err)
	}
}

func TestPerDatasetBreaker_closesAfterOpenFor(t *testing.T) {
	b := NewPerDatasetBreaker(1, 10*time.Millisecond)
	id := mustID(t)
	b.RecordFailure(id)
	if err := b.Check(id); err != ErrOpen {
		t.Fatalf("expected open, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := b.Check(id); err != nil {
		t.Fatalf("breaker should close after OpenFor elapses, got %v", err)
	}
}

func TestPerDatasetBreaker_resetClearsState(t *testing.T) {
	b := NewPerDatasetBreaker(1, time.Hour)
	id := mustID(t)
	b.RecordFailure(id)
	if err := b.Check(id); err != ErrOpen {
		t.Fatal("expected open")
	}
	b.Reset(id)
	if err := b.Check(id); err != nil {
		t.Fatalf("breaker should be closed after Reset, got %v", err)
	}
}

func TestPerDatasetBreaker_independentPerDataset(t *testing.T) {
	b := NewPerDatasetBreaker(1, time.Hour)
	a := mustID(t)
	other, _ := datasetid.New("110", "mus_musculus", "GRCm39")
	b.RecordFailure(a)
	if err := b.Check(a); err != ErrOpen {
		t.Fatal("a should be open")
	}
	if err := b.Check(other); err != nil {
		t.Fatalf("other dataset should be unaffected, got %v", err)
	}
}

func TestStoreBreaker_opensAfterThresholdAndReports(t *testing.T) {
	var tripped int
	b := NewStoreBreaker(2, time.Hour)
	b.OnTrip = func() { tripped++ }

	if t1 := b.RecordFailure(); t1 {
		t.Error("should not trip before threshold")
	}
	if !b.RecordFailure() {
		t.Error("should trip at threshold")
	}
	if tripped != 1 {
		t.Errorf("OnTrip called %d times, want 1", tripped)
	}
	if err := b.Check(); err != ErrOpen {
		t.Fatalf("expected open, got %v", err)
	}
}

func TestStoreBreaker_reset(t *testing.T) {
	b := NewStoreBreaker(1, time.Hour)
	b.RecordFailure()
	if err := b.Check(); err != ErrOpen {
		t.Fatal("expected open")
	}
	b.Reset()
	if err := b.Check(); err != nil {
		t.Fatalf("expected closed after reset, got %v", err)
	}
}

func TestRetryBudget_saturatesAtZeroAndResets(t *testing.T) {
	r := NewRetryBudget(2)
	if err := r.Check(); err != nil {
		t.Fatalf("budget should start open, got %v", err)
	}
	r.RecordFailure()
	r.RecordFailure()
	if r.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", r.Remaining())
	}
	r.RecordFailure() // saturating: should not go negative
	if r.Remaining() != 0 {
		t.Errorf("Remaining() after extra failure = %d, want 0", r.Remaining())
	}
	if err := r.Check(); err != ErrBudgetExhausted {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
	r.Reset()
	if r.Remaining() != 2 {
		t.Errorf("Remaining() after Reset = %d, want 2", r.Remaining())
	}
	if err := r.Check(); err != nil {
		t.Fatalf("budget should be open after reset, got %v", err)
	}
}
