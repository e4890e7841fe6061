// Package buffer implements the growable byte queue each connection uses for
// its read and write sides.
package buffer

import (
	"golang.org/x/sys/unix"
)

// scratchSize is the size of the stack scratch vector used by ReadFromFD so a
// single readv(2) can drain the kernel queue even when the buffer's own
// trailing free region is smaller than what's pending.
const scratchSize = 64 * 1024

// ByteBuffer is a contiguous byte region with read_pos <= write_pos <= cap.
// The readable slice is buf[readPos:writePos]; buf[:readPos] is prependable
// space recovered by compaction. It is owned by exactly one Connection and is
// not safe for concurrent use.
type ByteBuffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New returns a ByteBuffer with the given initial capacity.
func New(initCap int) *ByteBuffer {
	return &ByteBuffer{buf: make([]byte, initCap)}
}

// ReadableBytes returns the number of unread bytes.
func (b *ByteBuffer) ReadableBytes() int { return b.writePos - b.readPos }

// WritableBytes returns the number of bytes free after writePos.
func (b *ByteBuffer) WritableBytes() int { return len(b.buf) - b.writePos }

// PrependableBytes returns the number of bytes free before readPos.
func (b *ByteBuffer) PrependableBytes() int { return b.readPos }

// Peek returns the readable slice without consuming it.
func (b *ByteBuffer) Peek() []byte { return b.buf[b.readPos:b.writePos] }

// Retrieve advances the read cursor by n. n must be <= ReadableBytes().
func (b *ByteBuffer) Retrieve(n int) {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	b.readPos += n
	if b.readPos == b.writePos {
		b.readPos = 0
		b.writePos = 0
	}
}

// RetrieveUntil advances the read cursor up to (and not past) end, an index
// measured from the start of the underlying buffer (the read cursor's own
// coordinates), not an offset into Peek()'s result.
func (b *ByteBuffer) RetrieveUntil(end int) {
	b.Retrieve(end - b.readPos)
}

// RetrieveAll zero-fills the buffer and resets both cursors.
func (b *ByteBuffer) RetrieveAll() {
	for i := range b.buf {
		b.buf[i] = 0
	}
	b.readPos = 0
	b.writePos = 0
}

// RetrieveAllToString drains the readable slice into a string and resets the
// buffer.
func (b *ByteBuffer) RetrieveAllToString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// BeginWrite returns a slice into the writable region, for callers that write
// in place before calling HasWritten.
func (b *ByteBuffer) BeginWrite() []byte { return b.buf[b.writePos:] }

// HasWritten advances the write cursor by n after an in-place write via
// BeginWrite.
func (b *ByteBuffer) HasWritten(n int) { b.writePos += n }

// Append copies data onto the writable end, growing or compacting first if
// necessary.
func (b *ByteBuffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	copy(b.buf[b.writePos:], data)
	b.writePos += len(data)
}

// AppendString is a convenience wrapper around Append.
func (b *ByteBuffer) AppendString(s string) { b.Append([]byte(s)) }

// EnsureWritable grows or compacts the buffer so at least n bytes are
// writable. When the trailing plus prependable free space is insufficient,
// the buffer is reallocated to writePos+n+1; otherwise the readable bytes are
// shifted down to offset 0.
func (b *ByteBuffer) EnsureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.WritableBytes()+b.PrependableBytes() < n {
		grown := make([]byte, b.writePos+n+1)
		copy(grown, b.buf)
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf, b.buf[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = readable
}

// ReadFromFD drains fd into the buffer with a single scatter read: the first
// vector is the buffer's own trailing free region, the second a stack
// scratch of at least 64KiB. Bytes landing in the scratch vector are then
// appended, which may grow or compact the buffer. This lets one syscall drain
// the kernel socket queue in the common case without over-allocating the
// buffer itself.
func (b *ByteBuffer) ReadFromFD(fd int) (int, error) {
	var scratch [scratchSize]byte
	writable := b.WritableBytes()

	n, err := unix.Readv(fd, [][]byte{b.buf[b.writePos:], scratch[:]})
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writePos += n
	} else {
		b.writePos = len(b.buf)
		b.Append(scratch[:n-writable])
	}
	return n, nil
}

// WriteToFD writes the readable slice to fd with a single write(2) and
// advances the read cursor by the amount actually written.
func (b *ByteBuffer) WriteToFD(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n > 0 {
		b.Retrieve(n)
	}
	return n, err
}
