package httpparse

import (
	"context"
	"testing"

	"github.com/searchktools/fast-server/internal/buffer"
	"github.com/searchktools/fast-server/internal/dbpool"
)

func feed(t *testing.T, p *Parser, raw string) bool {
	t.Helper()
	buf := buffer.New(256)
	buf.AppendString(raw)
	done, err := p.FeedAndParse(buf)
	if err != nil {
		t.Fatalf("FeedAndParse: %v", err)
	}
	return done
}

func TestParsesSimpleGetRequestLine(t *testing.T) {
	p := New()
	done := feed(t, p, "GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if !done {
		t.Fatal("expected parse to finish")
	}
	if p.Method != "GET" || p.Path != "/index.html" || p.Version != "1.1" {
		t.Fatalf("unexpected parse: %+v", p)
	}
	if p.Header["Host"] != "example.com" {
		t.Fatalf("expected Host header, got %q", p.Header["Host"])
	}
}

func TestRootPathNormalizesToIndex(t *testing.T) {
	p := New()
	feed(t, p, "GET / HTTP/1.1\r\n\r\n")
	if p.Path != "/index.html" {
		t.Fatalf("expected /index.html, got %q", p.Path)
	}
}

func TestVirtualNameGetsHTMLSuffix(t *testing.T) {
	p := New()
	feed(t, p, "GET /welcome HTTP/1.1\r\n\r\n")
	if p.Path != "/welcome.html" {
		t.Fatalf("expected /welcome.html, got %q", p.Path)
	}
}

func TestUnknownPathIsUntouched(t *testing.T) {
	p := New()
	feed(t, p, "GET /style.css HTTP/1.1\r\n\r\n")
	if p.Path != "/style.css" {
		t.Fatalf("expected /style.css unchanged, got %q", p.Path)
	}
}

func TestIsKeepAliveRequiresHTTP11(t *testing.T) {
	p := New()
	feed(t, p, "GET /index.html HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	if p.IsKeepAlive() {
		t.Fatal("HTTP/1.0 must not be treated as keep-alive")
	}

	p2 := New()
	feed(t, p2, "GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	if !p2.IsKeepAlive() {
		t.Fatal("expected keep-alive for HTTP/1.1 with Connection: keep-alive")
	}
}

func TestIncompleteBufferDoesNotFinish(t *testing.T) {
	p := New()
	buf := buffer.New(64)
	buf.AppendString("GET /index.html HTTP/1.1\r\nHost: ex")
	done, err := p.FeedAndParse(buf)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("should not finish on incomplete headers")
	}
	buf.AppendString("ample.com\r\n\r\n")
	done, err = p.FeedAndParse(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("expected finish once blank line arrives")
	}
}

func TestMalformedRequestLineReturnsError(t *testing.T) {
	p := New()
	buf := buffer.New(64)
	buf.AppendString("GARBAGE\r\n\r\n")
	_, err := p.FeedAndParse(buf)
	if err != ErrBadRequest {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestPercentDecodeQuirkPreserved(t *testing.T) {
	p := New()
	// "%41" should NOT become 'A' (0x41); the reference bug only rewrites the
	// two hex-digit bytes in place to the ASCII digits of 65 decimal, leaving
	// the '%' itself untouched, so the decoded value is the literal "%65".
	body := "username=%41&password=x"
	raw := "POST /login.html HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\n\r\n" + body
	Verify = func(ctx context.Context, pool *dbpool.Pool, name, pwd string, isLogin bool) (bool, error) {
		if name != "%65" {
			t.Fatalf("expected quirked decode '%%65', got %q", name)
		}
		return true, nil
	}
	defer func() { Verify = VerifyUser }()

	feed(t, p, raw)
}

func TestFormDecodingAndLoginDispatch(t *testing.T) {
	p := New()
	raw := "POST /login.html HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\n\r\nusername=alice&password=secret"

	Verify = func(ctx context.Context, pool *dbpool.Pool, name, pwd string, isLogin bool) (bool, error) {
		if !isLogin {
			t.Fatal("expected login dispatch")
		}
		return name == "alice" && pwd == "secret", nil
	}
	defer func() { Verify = VerifyUser }()

	feed(t, p, raw)
	if p.Path != "/welcome.html" {
		t.Fatalf("expected /welcome.html on success, got %q", p.Path)
	}
}

func TestFailedVerifyRoutesToErrorPage(t *testing.T) {
	p := New()
	raw := "POST /register.html HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\n\r\nusername=bob&password=bad"

	Verify = func(ctx context.Context, pool *dbpool.Pool, name, pwd string, isLogin bool) (bool, error) {
		return false, nil
	}
	defer func() { Verify = VerifyUser }()

	feed(t, p, raw)
	if p.Path != "/error.html" {
		t.Fatalf("expected /error.html on failure, got %q", p.Path)
	}
}

func TestResetClearsState(t *testing.T) {
	p := New()
	feed(t, p, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")
	p.Reset()
	if p.Method != "" || len(p.Header) != 0 {
		t.Fatal("expected Reset to clear fields")
	}
}
