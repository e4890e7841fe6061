// Package connection implements the per-fd state machine: read what's
// available off the socket, run it through the request parser, build a
// response, then drain it back out with vectored writes across the
// response-buffer/mapped-file pair. Mirrors the reference HttpConn.
package connection

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-server/internal/buffer"
	"github.com/searchktools/fast-server/internal/httpparse"
	"github.com/searchktools/fast-server/internal/response"
)

// UserCount tracks live connections, mirroring the reference's atomic
// global counter; the reactor checks it against its MAX_FD limit on accept.
var UserCount atomic.Int64

// Event reports what a Conn wants the reactor to do next.
type Event int

const (
	// EventNone means no state change; the caller should keep the fd armed
	// as it was.
	EventNone Event = iota
	// EventWantWrite means the read/process cycle produced a response that
	// still has unwritten bytes; re-arm for writable.
	EventWantWrite
	// EventDone means the response finished writing on a keep-alive
	// connection; re-arm for the next request.
	EventDone
	// EventClose means the connection should be torn down (read EOF, a
	// fatal read/write error, or a finished non-keep-alive response).
	EventClose
)

// SrcDir is the resources root every Conn resolves paths against. Set once
// at startup.
var SrcDir string

// Conn holds one client connection's buffers, parser, and response state.
type Conn struct {
	mu   sync.Mutex
	fd   int
	addr net.Addr

	isET    bool
	closed  bool

	readBuf  *buffer.ByteBuffer
	writeBuf *buffer.ByteBuffer
	parser   *httpparse.Parser
	resp     response.Responder

	// keepAlive is the decision made for the in-flight response, matching
	// what resp.Init was told; OnWritable consults this rather than
	// re-deriving it from the parser, since a bad request forces false
	// regardless of whatever headers happened to parse.
	keepAlive bool

	iovBase [2][]byte // staged writev payloads: [0] header bytes, [1] mapped file
}

// New wraps fd (already accepted and set non-blocking) into a Conn.
func New(fd int, addr net.Addr, edgeTriggered bool) *Conn {
	UserCount.Add(1)
	return &Conn{
		fd:       fd,
		addr:     addr,
		isET:     edgeTriggered,
		readBuf:  buffer.New(4096),
		writeBuf: buffer.New(4096),
		parser:   httpparse.New(),
	}
}

// Fd returns the underlying file descriptor.
func (c *Conn) Fd() int { return c.fd }

// Closed reports whether Close has already run.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears down the connection exactly once. Safe to call from a racing
// timer callback and a worker goroutine.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.resp.UnmapFile()
	unix.Close(c.fd)
	UserCount.Add(-1)
}

// OnReadable drains the socket into readBuf, repeating while edge-triggered
// demands it, then hands control to process.
func (c *Conn) OnReadable() (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return EventClose, nil
	}

	for {
		n, err := c.readBuf.ReadFromFD(c.fd)
		if err != nil {
			if isWouldBlock(err) {
				break
			}
			return EventClose, err
		}
		if n == 0 {
			return EventClose, nil
		}
		if !c.isET {
			break
		}
	}

	return c.process()
}

// process runs the parser against whatever is buffered and, once a full
// request has arrived, builds the response and stages it for writing. The
// parser carries its own state machine across calls, so a request split
// across multiple reads is not reset mid-parse; Reset only happens once a
// response has actually gone out (see OnWritable).
func (c *Conn) process() (Event, error) {
	if c.readBuf.ReadableBytes() <= 0 {
		return EventNone, nil
	}

	done, err := c.parser.FeedAndParse(c.readBuf)
	if err != nil {
		c.keepAlive = false
		c.resp.Init(SrcDir, c.parser.Path, false, 400)
	} else if done {
		c.keepAlive = c.parser.IsKeepAlive()
		c.resp.Init(SrcDir, c.parser.Path, c.keepAlive, 200)
	} else {
		// Not enough bytes yet for a full request; wait for more reads.
		return EventNone, nil
	}

	if mkErr := c.resp.MakeResponse(c.writeBuf); mkErr != nil {
		return EventClose, mkErr
	}

	c.iovBase[0] = c.writeBuf.Peek()
	c.iovBase[1] = nil
	if c.resp.FileLen() > 0 && c.resp.File() != nil {
		c.iovBase[1] = c.resp.File()
	}
	return EventWantWrite, nil
}

// OnWritable drains the staged iovec pair with writev, repeating while
// edge-triggered or while more than 10KiB remains, matching the reference's
// do/while condition. If bytes are still unwritten when the loop stops it
// returns EventWantWrite; the response is finished only once both vectors
// are empty.
func (c *Conn) OnWritable() (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return EventClose, nil
	}

	for {
		if c.toWriteBytes() == 0 {
			break
		}

		n, err := c.writevOnce()
		if err != nil {
			if isWouldBlock(err) {
				return EventWantWrite, nil
			}
			return EventClose, err
		}
		if n <= 0 {
			return EventClose, nil
		}

		if c.toWriteBytes() == 0 {
			break
		}
		if !c.isET && c.toWriteBytes() <= 10240 {
			break
		}
	}

	if c.toWriteBytes() > 0 {
		// Level-triggered and the rest is small: finish on the next
		// writable event.
		return EventWantWrite, nil
	}

	c.resp.UnmapFile()
	c.writeBuf.RetrieveAll()

	if !c.keepAlive {
		return EventClose, nil
	}
	c.parser.Reset()
	return EventDone, nil
}

func (c *Conn) toWriteBytes() int {
	return len(c.iovBase[0]) + len(c.iovBase[1])
}

func (c *Conn) writevOnce() (int, error) {
	var bufs [][]byte
	if len(c.iovBase[0]) > 0 {
		bufs = append(bufs, c.iovBase[0])
	}
	if len(c.iovBase[1]) > 0 {
		bufs = append(bufs, c.iovBase[1])
	}
	if len(bufs) == 0 {
		return 0, nil
	}

	n, err := unix.Writev(c.fd, bufs)
	if err != nil {
		return n, err
	}

	remaining := n
	if remaining >= len(c.iovBase[0]) {
		remaining -= len(c.iovBase[0])
		c.iovBase[0] = nil
		if remaining > 0 && len(c.iovBase[1]) > 0 {
			c.iovBase[1] = c.iovBase[1][remaining:]
		}
	} else {
		c.iovBase[0] = c.iovBase[0][remaining:]
	}
	return n, nil
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// String implements fmt.Stringer for logging.
func (c *Conn) String() string {
	return fmt.Sprintf("conn{fd=%d addr=%s}", c.fd, c.addr)
}
