// Package dbpool is a bounded, semaphore-guarded pool of database handles.
// It mirrors the reference connection pool's acquire/release contract:
// acquire blocks until a handle is free or the caller's context ends, release
// always succeeds, and the pool sets no checkout deadline of its own.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
)

// Pool holds `size` *sql.Conn handles behind a counting semaphore. The
// invariant available+checkedOut==size holds at every observable point:
// acquire consumes a semaphore slot before popping a handle, release pushes
// the handle back before posting the slot.
type Pool struct {
	db   *sql.DB
	size int

	sem   chan struct{} // counting semaphore, buffered to size
	mu    sync.Mutex
	queue []*sql.Conn
}

// New opens `size` connections against dsn and fills the pool. dsn follows
// github.com/go-sql-driver/mysql's DSN format
// (user:password@tcp(host:port)/dbname).
func New(ctx context.Context, dsn string, size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("dbpool: size must be positive, got %d", size)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}
	db.SetMaxOpenConns(size)

	p := &Pool{
		db:   db,
		size: size,
		sem:  make(chan struct{}, size),
		queue: make([]*sql.Conn, 0, size),
	}

	for i := 0; i < size; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			p.CloseAll()
			return nil, fmt.Errorf("dbpool: connect %d/%d: %w", i+1, size, err)
		}
		p.queue = append(p.queue, conn)
		p.sem <- struct{}{}
	}
	return p, nil
}

// Acquire waits on the semaphore, then pops a handle under the mutex.
// Contention failure mode: if the pool is exhausted it blocks until a handle
// is released or ctx is done (then it returns ctx.Err()); the pool adds no
// checkout deadline beyond ctx.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	conn := p.queue[len(p.queue)-1]
	p.queue = p.queue[:len(p.queue)-1]
	p.mu.Unlock()
	return conn, nil
}

// Release pushes conn back under the mutex then posts the semaphore. Users
// must acquire/release as a scoped pair.
func (p *Pool) Release(conn *sql.Conn) {
	p.mu.Lock()
	p.queue = append(p.queue, conn)
	p.mu.Unlock()
	p.sem <- struct{}{}
}

// CloseAll drains and closes every handle, then the underlying *sql.DB.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	for _, c := range p.queue {
		c.Close()
	}
	p.queue = nil
	p.mu.Unlock()
	p.db.Close()
}

// Stats reports the live available/checked-out split for the
// available+checkedOut==size invariant tests and diagnostics.
func (p *Pool) Stats() (available, checkedOut int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	available = len(p.queue)
	return available, p.size - available
}
