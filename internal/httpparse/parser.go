// Package httpparse drives the incremental HTTP/1.1 request parser: feed it
// bytes as they arrive off the wire and it advances a small state machine
// (request line, headers, body, finish) one CRLF-delimited line at a time.
package httpparse

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/searchktools/fast-server/internal/buffer"
	"github.com/searchktools/fast-server/internal/dbpool"
)

// ErrBadRequest is returned when the request line fails to parse.
var ErrBadRequest = errors.New("httpparse: malformed request line")

// State names a stage of the incremental parser.
type State int

const (
	RequestLine State = iota
	Headers
	Body
	Finish
)

// defaultHTML is the virtual-name allow-list: a bare "/name" request gets
// ".html" appended. "/" itself maps straight to "/index.html".
var defaultHTML = map[string]bool{
	"/index": true, "/register": true, "/login": true,
	"/welcome": true, "/video": true, "/picture": true,
}

// htmlTag maps the two form endpoints to their verification mode: 0 is
// register, 1 is login.
var htmlTag = map[string]int{
	"/register.html": 0,
	"/login.html":    1,
}

// Parser holds the incremental state for one connection's in-flight request.
// Reset reuses it for the next request on a keep-alive connection.
type Parser struct {
	state   State
	Method  string
	Path    string
	Version string
	Header  map[string]string
	body    string
	Post    map[string]string
}

// New returns a freshly initialized Parser.
func New() *Parser {
	p := &Parser{}
	p.Reset()
	return p
}

// Reset restores the parser to RequestLine with empty fields, for reuse
// across keep-alive requests on the same connection.
func (p *Parser) Reset() {
	p.state = RequestLine
	p.Method, p.Path, p.Version, p.body = "", "", "", ""
	p.Header = make(map[string]string)
	p.Post = make(map[string]string)
}

// IsKeepAlive reports whether the parsed request asked to keep the
// connection open, per HTTP/1.1 semantics only — a 1.0 request with
// Connection: keep-alive is not treated as persistent.
func (p *Parser) IsKeepAlive() bool {
	if v, ok := p.Header["Connection"]; ok {
		return v == "keep-alive" && p.Version == "1.1"
	}
	return false
}

// FeedAndParse consumes as many complete CRLF-terminated lines as buf holds,
// advancing state, and returns done=true once the request is fully parsed
// (state reaches Finish). It returns as soon as the buffer runs out of a
// complete line, to be called again once more bytes arrive.
func (p *Parser) FeedAndParse(buf *buffer.ByteBuffer) (done bool, err error) {
	if buf.ReadableBytes() <= 0 {
		return false, nil
	}

	for buf.ReadableBytes() > 0 && p.state != Finish {
		data := buf.Peek()

		if p.state == Body {
			// The body carries no line framing of its own: once headers
			// are done, whatever has arrived in the buffer is taken whole
			// as the body. This server only handles single-shot,
			// non-chunked POST bodies, so one read is always enough.
			p.body = string(data)
			p.parsePost(context.Background())
			p.state = Finish
			buf.Retrieve(len(data))
			break
		}

		idx := bytes.Index(data, []byte("\r\n"))
		if idx == -1 {
			// Incomplete request or header line; wait for more bytes.
			break
		}
		line := data[:idx]
		consumed := idx + 2

		switch p.state {
		case RequestLine:
			if !p.parseRequestLine(string(line)) {
				return false, ErrBadRequest
			}
			p.normalizePath()
		case Headers:
			p.parseHeader(string(line))
			// Mirrors the reference parser: this check runs before the
			// current line is retrieved from the buffer, so "readable <= 2"
			// means nothing but the blank line's own CRLF remains — no body
			// follows, so skip straight to Finish even if parseHeader just
			// set state to Body.
			if buf.ReadableBytes() <= 2 {
				p.state = Finish
			}
		}

		buf.Retrieve(consumed)
	}

	return p.state == Finish, nil
}

func (p *Parser) parseRequestLine(line string) bool {
	sp1 := strings.IndexByte(line, ' ')
	if sp1 < 0 {
		return false
	}
	rest := line[sp1+1:]
	sp2 := strings.IndexByte(rest, ' ')
	if sp2 < 0 {
		return false
	}
	method := line[:sp1]
	path := rest[:sp2]
	proto := rest[sp2+1:]
	if !strings.HasPrefix(proto, "HTTP/") {
		return false
	}
	p.Method = method
	p.Path = path
	p.Version = proto[len("HTTP/"):]
	p.state = Headers
	return true
}

// normalizePath rewrites "/" to "/index.html" and appends ".html" to any
// path matching the virtual-name allow-list.
func (p *Parser) normalizePath() {
	if p.Path == "/" {
		p.Path = "/index.html"
		return
	}
	if defaultHTML[p.Path] {
		p.Path += ".html"
	}
}

func (p *Parser) parseHeader(line string) {
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		p.state = Body
		return
	}
	key := strings.TrimSpace(line[:colon])
	val := strings.TrimSpace(line[colon+1:])
	p.Header[key] = val
}

// VerifyFunc authenticates or registers a user against storage. It returns
// whether the operation succeeded.
type VerifyFunc func(ctx context.Context, pool *dbpool.Pool, name, pwd string, isLogin bool) (bool, error)

// Verify is invoked by parsePost for the two form endpoints; it must be set.
// Tests substitute a fake to avoid a real database round trip.
var Verify VerifyFunc = VerifyUser

// Pool is the database pool parsePost uses when Verify is the default
// VerifyUser. Callers wire this up once at startup.
var Pool *dbpool.Pool

func (p *Parser) parsePost(ctx context.Context) {
	if p.Method != "POST" || p.Header["Content-Type"] != "application/x-www-form-urlencoded" {
		return
	}
	p.parseFormURLEncoded()

	tag, ok := htmlTag[p.Path]
	if !ok {
		return
	}
	isLogin := tag == 1
	ok2, err := Verify(ctx, Pool, p.Post["username"], p.Post["password"], isLogin)
	if err != nil || !ok2 {
		p.Path = "/error.html"
		return
	}
	p.Path = "/welcome.html"
}

// convHex maps a hex digit character ('0'-'9', 'A'-'F', 'a'-'f') to its
// numeric value; any other byte is returned unchanged as its byte value.
func convHex(ch byte) int {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0')
	case ch >= 'A' && ch <= 'F':
		return int(ch-'A') + 10
	case ch >= 'a' && ch <= 'f':
		return int(ch-'a') + 10
	default:
		return int(ch)
	}
}

// parseFormURLEncoded decodes the request body as
// application/x-www-form-urlencoded into p.Post. It reproduces the
// reference implementation's percent-decode quirk byte for byte: "%HH" is
// not turned into the single byte 16*H+H, it is rewritten in place into two
// ASCII digit characters representing that value in decimal (e.g. "%41"
// becomes the two bytes '6','5', not 'A'). This is a known bug in the
// reference and is preserved intentionally rather than silently fixed.
func (p *Parser) parseFormURLEncoded() {
	body := []byte(p.body)
	if len(body) == 0 {
		return
	}

	var key string
	j := 0
	n := len(body)
	i := 0
	for ; i < n; i++ {
		switch body[i] {
		case '=':
			key = string(body[j:i])
			j = i + 1
		case '+':
			body[i] = ' '
		case '%':
			if i+2 < n {
				num := convHex(body[i+1])*16 + convHex(body[i+2])
				body[i+2] = byte(num%10) + '0'
				body[i+1] = byte(num/10) + '0'
				i += 2
			}
		case '&':
			value := string(body[j:i])
			j = i + 1
			p.Post[key] = value
		}
	}
	if _, exists := p.Post[key]; !exists && j < i {
		p.Post[key] = string(body[j:i])
	}
}

// GetPost returns the decoded form value for key, or "" if absent.
func (p *Parser) GetPost(key string) string {
	return p.Post[key]
}
