package timer

import (
	"math/rand"
	"testing"
	"time"
)

// checkInvariants verifies, for every id in the index mapping, that the heap
// node at the mapped index has that id, and that every parent's expiry is
// <= its children's.
func checkInvariants(t *testing.T, h *Heap) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, i := range h.ref {
		if h.heap[i].id != id {
			t.Fatalf("ref[%d]=%d but heap[%d].id=%d", id, i, i, h.heap[i].id)
		}
	}
	for i := range h.heap {
		left, right := 2*i+1, 2*i+2
		if left < len(h.heap) && h.heap[i].expires.After(h.heap[left].expires) {
			t.Fatalf("heap property violated at %d/%d", i, left)
		}
		if right < len(h.heap) && h.heap[i].expires.After(h.heap[right].expires) {
			t.Fatalf("heap property violated at %d/%d", i, right)
		}
	}
}

func TestHeapInvariantsUnderRandomOps(t *testing.T) {
	h := New()
	r := rand.New(rand.NewSource(42))
	live := map[uint64]bool{}

	for i := 0; i < 500; i++ {
		id := uint64(r.Intn(30))
		switch r.Intn(4) {
		case 0, 1:
			h.Add(id, time.Duration(r.Intn(1000))*time.Millisecond, func() {})
			live[id] = true
		case 2:
			if live[id] {
				h.Adjust(id, time.Duration(r.Intn(1000))*time.Millisecond)
			}
		case 3:
			if h.Len() > 0 {
				h.Pop()
			}
		}
		checkInvariants(t, h)
	}
}

func TestDoWorkInvokesCallbackExactlyOnceAndRemoves(t *testing.T) {
	h := New()
	calls := 0
	h.Add(1, time.Hour, func() { calls++ })
	h.Add(2, time.Hour, func() {})

	h.DoWork(1)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if h.Len() != 1 {
		t.Fatalf("expected node removed, len=%d", h.Len())
	}
	h.DoWork(1) // already gone, must be a no-op
	if calls != 1 {
		t.Fatalf("DoWork on missing id re-invoked callback")
	}
}

func TestTickFiresOnlyExpiredInOrder(t *testing.T) {
	h := New()
	var fired []uint64
	h.Add(1, 10*time.Millisecond, func() { fired = append(fired, 1) })
	h.Add(2, 20*time.Millisecond, func() { fired = append(fired, 2) })
	h.Add(3, time.Hour, func() { fired = append(fired, 3) })

	time.Sleep(30 * time.Millisecond)
	h.Tick()

	if len(fired) != 2 || fired[0] != 1 || fired[1] != 2 {
		t.Fatalf("expected [1 2], got %v", fired)
	}
	if h.Len() != 1 {
		t.Fatalf("expected only the unexpired node left, len=%d", h.Len())
	}
}

func TestGetNextTickReportsNonNegativeRemaining(t *testing.T) {
	h := New()
	h.Add(1, 50*time.Millisecond, func() {})
	ms, ok := h.GetNextTick()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if ms < 0 || ms > 50 {
		t.Fatalf("unexpected remaining ms: %d", ms)
	}

	h.Clear()
	if _, ok := h.GetNextTick(); ok {
		t.Fatal("expected no deadline after Clear")
	}
}
