package dbpool

import (
	"context"
	"database/sql"
	"sync"
	"testing"
)

// newTestPool builds a Pool whose bookkeeping (semaphore + queue) is
// identical to what New produces, without dialing a real MySQL server. The
// handles themselves are never dereferenced by Acquire/Release/Stats, so nil
// *sql.Conn placeholders are sufficient to exercise the pool's invariant.
func newTestPool(size int) *Pool {
	p := &Pool{size: size, sem: make(chan struct{}, size), queue: make([]*sql.Conn, 0, size)}
	for i := 0; i < size; i++ {
		p.queue = append(p.queue, (*sql.Conn)(nil))
		p.sem <- struct{}{}
	}
	return p
}

func TestAvailablePlusCheckedOutInvariant(t *testing.T) {
	p := newTestPool(5)
	ctx := context.Background()

	var held []*sql.Conn
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(ctx)
		if err != nil {
			t.Fatal(err)
		}
		held = append(held, c)

		avail, checkedOut := p.Stats()
		if avail+checkedOut != 5 {
			t.Fatalf("invariant broken: %d+%d != 5", avail, checkedOut)
		}
		if checkedOut != i+1 {
			t.Fatalf("expected %d checked out, got %d", i+1, checkedOut)
		}
	}

	for _, c := range held {
		p.Release(c)
		avail, checkedOut := p.Stats()
		if avail+checkedOut != 5 {
			t.Fatalf("invariant broken after release: %d+%d != 5", avail, checkedOut)
		}
	}

	if avail, _ := p.Stats(); avail != 5 {
		t.Fatalf("expected all 5 handles free, got %d", avail)
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := newTestPool(1)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Acquire(ctx); err != nil {
			t.Error(err)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire returned before Release")
	default:
	}

	p.Release(c)
	wg.Wait()
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := newTestPool(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Acquire(ctx); err == nil {
		t.Fatal("expected context cancellation error")
	}
}
