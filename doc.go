/*
Package fastserver is a single-process, event-driven HTTP/1.1 server: one
reactor goroutine owns an epoll/kqueue readiness poller and a bounded accept
loop, request parsing and response building run on a fixed worker pool, and
static files are served via mmap. A small login/registration flow persists
users to MySQL through a semaphore-bounded connection pool.

Modules

  - cmd/server: process entry point
  - app: subsystem wiring and signal-driven shutdown
  - config: command-line configuration surface
  - internal/reactor: accept loop, readiness dispatch, trigger-mode wiring
  - internal/poller: epoll (Linux) / kqueue (BSD/macOS) readiness backend
  - internal/connection: per-fd read/parse/respond/write state machine
  - internal/httpparse: incremental HTTP/1.1 request parser and login/register handling
  - internal/response: status line, header, and mmap'd body construction
  - internal/buffer: growable byte queue used by the read/write sides of a connection
  - internal/timer: min-heap idle-connection eviction timer
  - internal/workerpool: fixed-size FIFO task queue executing connection I/O
  - internal/dbpool: bounded MySQL connection pool
  - internal/logger: async, level-filtered, rotating log sink
*/
package fastserver
