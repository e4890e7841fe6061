// Package reactor wires the readiness poller, timer heap, worker pool, and
// per-connection state machines into the server's single accept/dispatch
// loop. One goroutine owns the poller and the accept path; connection I/O
// callbacks run on the worker pool.
package reactor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-server/internal/connection"
	"github.com/searchktools/fast-server/internal/logger"
	"github.com/searchktools/fast-server/internal/poller"
	"github.com/searchktools/fast-server/internal/timer"
	"github.com/searchktools/fast-server/internal/workerpool"
)

// maxFD bounds live connections, matching the reference's MAX_FD guard in
// DealListen_.
const maxFD = 65536

// maxPollMS bounds how long a single poller.Wait call blocks when idle
// eviction is disabled, so Run still notices context cancellation promptly.
const maxPollMS = 1000

// TriggerMode selects edge- vs level-triggered readiness for the listening
// socket and for connection sockets independently, matching
// WebServer::InitEventMode_'s four modes.
type TriggerMode int

const (
	TriggerLevelListenLevelConn TriggerMode = 0
	TriggerLevelListenEdgeConn  TriggerMode = 1
	TriggerEdgeListenLevelConn  TriggerMode = 2
	TriggerEdgeListenEdgeConn   TriggerMode = 3
)

// Config controls one Reactor instance.
type Config struct {
	Port        int
	Trigger     TriggerMode
	IdleTimeout time.Duration // <=0 disables idle eviction
	OpenLinger  bool          // SO_LINGER{on,1}: close waits up to 1s for unsent data on the listening socket
	SrcDir      string
	Workers     int
	Log         *logger.Logger
}

// Reactor owns the listening socket, poller, timer heap, and worker pool.
type Reactor struct {
	cfg       Config
	listenFd  int
	p         poller.Poller
	timers    *timer.Heap
	pool      *workerpool.Pool
	connsMu   sync.Mutex
	conns     map[int]*connection.Conn
	listenEvt poller.Mask
	connEvt   poller.Mask
	connIsET  bool
}

// New builds and binds a Reactor but does not yet start serving.
func New(cfg Config) (*Reactor, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 6
	}
	connection.SrcDir = cfg.SrcDir

	r := &Reactor{
		cfg:   cfg,
		conns: make(map[int]*connection.Conn),
	}
	r.initEventMode()

	p, err := poller.New()
	if err != nil {
		return nil, fmt.Errorf("reactor: new poller: %w", err)
	}
	r.p = p
	r.timers = timer.New()
	r.pool = workerpool.New(cfg.Workers)

	if err := r.initSocket(); err != nil {
		p.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reactor) initEventMode() {
	r.listenEvt = poller.PeerClosed
	r.connEvt = poller.Oneshot | poller.PeerClosed
	switch r.cfg.Trigger {
	case TriggerLevelListenLevelConn:
	case TriggerLevelListenEdgeConn:
		r.connEvt |= poller.EdgeTriggered
	case TriggerEdgeListenLevelConn:
		r.listenEvt |= poller.EdgeTriggered
	default:
		r.listenEvt |= poller.EdgeTriggered
		r.connEvt |= poller.EdgeTriggered
	}
	r.connIsET = r.connEvt&poller.EdgeTriggered != 0
}

func (r *Reactor) initSocket() error {
	// Port 0 is let through as the Go convention for "let the kernel assign
	// an ephemeral port" (used by tests); any other out-of-range port fails
	// fast here, matching InitSocket_'s port_ > 65535 || port_ < 1024 guard.
	if r.cfg.Port != 0 && (r.cfg.Port < 1024 || r.cfg.Port > 65535) {
		return fmt.Errorf("reactor: port %d out of range [1024, 65535]", r.cfg.Port)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("reactor: socket: %w", err)
	}

	linger := unix.Linger{}
	if r.cfg.OpenLinger {
		linger.Onoff = 1
		linger.Linger = 1
	}
	if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: setsockopt SO_LINGER: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: setsockopt SO_REUSEADDR: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: r.cfg.Port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: bind port %d: %w", r.cfg.Port, err)
	}
	if err := unix.Listen(fd, 6); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: set listen fd nonblocking: %w", err)
	}

	if err := r.p.Add(fd, r.listenEvt|poller.Readable); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: add listen fd to poller: %w", err)
	}
	r.listenFd = fd
	return nil
}

// ListenPort returns the bound listening port, useful when Config.Port was
// 0 and the kernel picked an ephemeral one.
func (r *Reactor) ListenPort() int {
	sa, err := unix.Getsockname(r.listenFd)
	if err != nil {
		return r.cfg.Port
	}
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return sa4.Port
	}
	return r.cfg.Port
}

// Run drives the accept/dispatch loop until ctx is canceled.
func (r *Reactor) Run(ctx context.Context) error {
	r.logf("info", "reactor started on port %d", r.cfg.Port)
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		default:
		}

		// Capped rather than -1 even when idle eviction is disabled, so the
		// loop wakes up often enough to notice ctx cancellation.
		timeoutMS := maxPollMS
		if r.cfg.IdleTimeout > 0 {
			if ms, ok := r.timers.GetNextTick(); ok {
				timeoutMS = ms
			} else {
				timeoutMS = int(r.cfg.IdleTimeout.Milliseconds())
			}
		}

		n, err := r.p.Wait(timeoutMS)
		if err != nil {
			return fmt.Errorf("reactor: poller wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := r.p.EventFD(i)
			mask := r.p.EventMask(i)

			if fd == r.listenFd {
				r.acceptLoop()
				continue
			}

			r.connsMu.Lock()
			c, ok := r.conns[fd]
			r.connsMu.Unlock()
			if !ok {
				continue
			}

			if mask&poller.PeerClosed != 0 {
				r.closeConn(c)
				continue
			}
			if mask&poller.Readable != 0 {
				r.extendTimeout(fd)
				r.pool.Submit(func() { r.onRead(c) })
				continue
			}
			if mask&poller.Writable != 0 {
				r.extendTimeout(fd)
				r.pool.Submit(func() { r.onWrite(c) })
				continue
			}
		}
	}
}

func (r *Reactor) acceptLoop() {
	for {
		nfd, sa, err := unix.Accept(r.listenFd)
		if err != nil {
			return
		}
		if connection.UserCount.Load() >= maxFD {
			sendBusy(nfd)
			r.logf("warn", "client is full")
			unix.Close(nfd)
			return
		}
		r.addClient(nfd, sa)
		if r.listenEvt&poller.EdgeTriggered == 0 {
			return
		}
	}
}

func sendBusy(fd int) {
	unix.Write(fd, []byte("Server busy!"))
}

func (r *Reactor) addClient(fd int, sa unix.Sockaddr) {
	unix.SetNonblock(fd, true)
	c := connection.New(fd, sockaddrToNetAddr(sa), r.connIsET)
	r.connsMu.Lock()
	r.conns[fd] = c
	r.connsMu.Unlock()

	if r.cfg.IdleTimeout > 0 {
		r.timers.Add(uint64(fd), r.cfg.IdleTimeout, func() { r.closeConn(c) })
	}
	r.p.Add(fd, r.connEvt|poller.Readable)
}

func (r *Reactor) extendTimeout(fd int) {
	if r.cfg.IdleTimeout > 0 {
		r.timers.Adjust(uint64(fd), r.cfg.IdleTimeout)
	}
}

func (r *Reactor) closeConn(c *connection.Conn) {
	fd := c.Fd()
	r.p.Delete(fd)
	r.connsMu.Lock()
	delete(r.conns, fd)
	r.connsMu.Unlock()
	c.Close()
}

func (r *Reactor) onRead(c *connection.Conn) {
	ev, err := c.OnReadable()
	r.dispatch(c, ev, err)
}

func (r *Reactor) onWrite(c *connection.Conn) {
	ev, err := c.OnWritable()
	r.dispatch(c, ev, err)
}

func (r *Reactor) dispatch(c *connection.Conn, ev connection.Event, err error) {
	if err != nil {
		r.logf("warn", "connection %d: %v", c.Fd(), err)
	}
	switch ev {
	case connection.EventWantWrite:
		r.p.Modify(c.Fd(), r.connEvt|poller.Writable)
	case connection.EventDone:
		r.p.Modify(c.Fd(), r.connEvt|poller.Readable)
	case connection.EventNone:
		r.p.Modify(c.Fd(), r.connEvt|poller.Readable)
	default: // EventClose
		r.closeConn(c)
	}
}

func (r *Reactor) shutdown() {
	r.connsMu.Lock()
	conns := make([]*connection.Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.connsMu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	r.pool.Close()
	r.p.Close()
	unix.Close(r.listenFd)
}

func (r *Reactor) logf(level, format string, args ...any) {
	if r.cfg.Log == nil {
		return
	}
	switch level {
	case "warn":
		r.cfg.Log.Warnf(format, args...)
	default:
		r.cfg.Log.Infof(format, args...)
	}
}

func sockaddrToNetAddr(sa unix.Sockaddr) net.Addr {
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return &net.TCPAddr{IP: net.IP(sa4.Addr[:]), Port: sa4.Port}
	}
	return nil
}
