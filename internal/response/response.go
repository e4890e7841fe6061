// Package response builds the HTTP response byte stream for a request: the
// status line, headers, and a memory-mapped view of the response body file.
// Mirrors the reference implementation's mmap-based zero-copy file serving.
package response

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-server/internal/buffer"
)

// suffixType is the fixed MIME table. The trailing space on ".css" and
// ".js" is carried over from the reference implementation's literal
// strings, not fixed, since clients tolerate it and SPEC_FULL calls for
// bug-compatible behavior here.
var suffixType = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/nsword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css ",
	".js":    "text/javascript ",
}

var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

var codePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

// Responder assembles one response: status line + headers into a
// ByteBuffer, and a separate mmap'd view of the body file for vectored
// writes alongside it.
type Responder struct {
	code        int
	path        string
	srcDir      string
	isKeepAlive bool

	file     []byte // mmap'd body, nil if none
	fileSize int64
}

// Init prepares the responder for a new response. Call UnmapFile before
// reusing a Responder for a subsequent request.
func (r *Responder) Init(srcDir, path string, isKeepAlive bool, code int) {
	r.srcDir = srcDir
	r.path = path
	r.isKeepAlive = isKeepAlive
	r.code = code
	r.file = nil
	r.fileSize = 0
}

// MakeResponse stats the target file, resolves the status code, and writes
// the status line + headers into buf. The body, if any, is left mapped and
// retrievable via File()/FileLen().
func (r *Responder) MakeResponse(buf *buffer.ByteBuffer) error {
	fullPath := filepath.Join(r.srcDir, r.path)
	info, err := os.Stat(fullPath)
	switch {
	case err != nil || info.IsDir():
		r.code = 404
	case info.Mode().Perm()&0o004 == 0:
		r.code = 403
	case r.code == -1 || r.code == 0:
		r.code = 200
	}

	r.errorHTML()
	r.addStateLine(buf)
	r.addHeader(buf)
	return r.addContent(buf)
}

// File returns the mapped body bytes, or nil if there is none.
func (r *Responder) File() []byte { return r.file }

// FileLen returns the body length in bytes.
func (r *Responder) FileLen() int64 { return r.fileSize }

// errorHTML swaps in the status code's fallback error page when one exists,
// matching the reference's ErrorHtml_.
func (r *Responder) errorHTML() {
	if p, ok := codePath[r.code]; ok {
		r.path = p
	}
}

func (r *Responder) addStateLine(buf *buffer.ByteBuffer) {
	status, ok := codeStatus[r.code]
	if !ok {
		r.code = 400
		status = codeStatus[r.code]
	}
	buf.AppendString("HTTP/1.1 " + strconv.Itoa(r.code) + " " + status + "\r\n")
}

func (r *Responder) addHeader(buf *buffer.ByteBuffer) {
	buf.AppendString("Connection: ")
	if r.isKeepAlive {
		buf.AppendString("keep-alive\r\n")
		buf.AppendString("keep-alive: max=6, timeout=120\r\n")
	} else {
		buf.AppendString("close\r\n")
	}
	buf.AppendString("Content-type: " + r.fileType() + "\r\n")
}

func (r *Responder) addContent(buf *buffer.ByteBuffer) error {
	fullPath := filepath.Join(r.srcDir, r.path)
	f, err := os.Open(fullPath)
	if err != nil {
		r.errorContent(buf, "File NotFound!")
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		r.errorContent(buf, "File NotFound!")
		return nil
	}
	size := info.Size()

	if size > 0 {
		data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
		if err != nil {
			r.errorContent(buf, "File NotFound!")
			return nil
		}
		r.file = data
		r.fileSize = size
	} else {
		r.file = nil
		r.fileSize = 0
	}

	buf.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", size))
	return nil
}

// UnmapFile releases the mmap'd body, if one is held.
func (r *Responder) UnmapFile() {
	if r.file != nil {
		unix.Munmap(r.file)
		r.file = nil
	}
}

func (r *Responder) fileType() string {
	idx := strings.LastIndexByte(r.path, '.')
	if idx == -1 {
		return "text/plain"
	}
	if t, ok := suffixType[r.path[idx:]]; ok {
		return t
	}
	return "text/plain"
}

func (r *Responder) errorContent(buf *buffer.ByteBuffer, message string) {
	status, ok := codeStatus[r.code]
	if !ok {
		status = "Bad Request"
	}
	var b strings.Builder
	b.WriteString("<html><title>Error</title>")
	b.WriteString(`<body bgcolor="ffffff">`)
	fmt.Fprintf(&b, "%d : %s\n", r.code, status)
	b.WriteString("<p>" + message + "</p>")
	b.WriteString("<hr><em>fast-server</em></body></html>")
	body := b.String()

	buf.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", len(body)))
	buf.AppendString(body)
}
