// Package timer implements an indexed min-heap of per-connection deadlines,
// used by the reactor to evict idle connections without scanning the full
// connection table on every tick.
package timer

import (
	"sync"
	"time"
)

// Callback fires when a node expires or is explicitly worked off.
type Callback func()

// node is a (connection-id, deadline, callback) triple. Ordering is by
// Expires only.
type node struct {
	id      uint64
	expires time.Time
	cb      Callback
}

// Heap is a slice-backed min-heap of nodes paired with an id->index mapping.
// Every id present in the mapping appears exactly once in the heap at the
// mapped index, and the heap property holds on Expires. All mutation is
// serialized on mu, so any goroutine may call into the heap; mu guards the
// heap and index only, not the connections whose deadlines it tracks.
type Heap struct {
	mu   sync.Mutex
	heap []node
	ref  map[uint64]int
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{ref: make(map[uint64]int)}
}

// Add inserts a new node or, if id is already tracked, updates its expiry and
// callback in place and restores the heap invariant in whichever direction is
// needed.
func (h *Heap) Add(id uint64, timeout time.Duration, cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	expires := time.Now().Add(timeout)
	if i, ok := h.ref[id]; ok {
		h.heap[i].expires = expires
		h.heap[i].cb = cb
		if !h.siftDown(i, len(h.heap)) {
			h.siftUp(i)
		}
		return
	}

	i := len(h.heap)
	h.ref[id] = i
	h.heap = append(h.heap, node{id: id, expires: expires, cb: cb})
	h.siftUp(i)
}

// Adjust defers id's expiry to now+timeout and restores the heap invariant.
// The design assumes the new expiry is >= the old one (that's the only way
// I/O activity calls it), but siftDown/siftUp together handle either
// direction correctly.
func (h *Heap) Adjust(id uint64, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	i, ok := h.ref[id]
	if !ok {
		return
	}
	h.heap[i].expires = time.Now().Add(timeout)
	if !h.siftDown(i, len(h.heap)) {
		h.siftUp(i)
	}
}

// DoWork invokes id's callback (if still tracked) and removes the node. The
// callback is extracted before the node is removed so it never observes a
// half-removed heap.
func (h *Heap) DoWork(id uint64) {
	h.mu.Lock()
	i, ok := h.ref[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	cb := h.heap[i].cb
	h.del(i)
	h.mu.Unlock()
	cb()
}

// Tick invokes and pops every node whose expiry is <= now.
func (h *Heap) Tick() {
	for {
		h.mu.Lock()
		if len(h.heap) == 0 || h.heap[0].expires.After(time.Now()) {
			h.mu.Unlock()
			return
		}
		cb := h.heap[0].cb
		h.del(0)
		h.mu.Unlock()
		cb()
	}
}

// GetNextTick runs Tick to clear anything already due, then reports how long
// the caller may safely block before the next deadline. ok is false when the
// heap is empty (no deadline armed).
func (h *Heap) GetNextTick() (ms int, ok bool) {
	h.Tick()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.heap) == 0 {
		return 0, false
	}
	d := time.Until(h.heap[0].expires).Milliseconds()
	if d < 0 {
		d = 0
	}
	return int(d), true
}

// Pop removes the root node without invoking its callback.
func (h *Heap) Pop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.heap) == 0 {
		return
	}
	h.del(0)
}

// Clear empties the heap.
func (h *Heap) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heap = h.heap[:0]
	h.ref = make(map[uint64]int)
}

// Len reports the number of tracked nodes, for tests and diagnostics.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.heap)
}

// del removes the node at index by swapping it with the tail, popping, and
// restoring the heap from the swapped slot (try sift-down; if it doesn't
// move, sift-up). Callers must hold mu.
func (h *Heap) del(index int) {
	n := len(h.heap) - 1
	if index < n {
		h.swap(index, n)
		if !h.siftDown(index, n) {
			h.siftUp(index)
		}
	}
	delete(h.ref, h.heap[n].id)
	h.heap = h.heap[:n]
}

func (h *Heap) swap(i, j int) {
	h.heap[i], h.heap[j] = h.heap[j], h.heap[i]
	h.ref[h.heap[i].id] = i
	h.ref[h.heap[j].id] = j
}

func (h *Heap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.heap[i].expires.Before(h.heap[parent].expires) {
			break
		}
		h.swap(i, parent)
		i = parent
	}
}

// siftDown returns whether the node at index actually moved.
func (h *Heap) siftDown(index, n int) bool {
	i := index
	for {
		child := i*2 + 1
		if child >= n {
			break
		}
		if child+1 < n && h.heap[child+1].expires.Before(h.heap[child].expires) {
			child++
		}
		if !h.heap[child].expires.Before(h.heap[i].expires) {
			break
		}
		h.swap(i, child)
		i = child
	}
	return i > index
}
