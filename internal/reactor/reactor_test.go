package reactor

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestReactorServesStaticFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("reactor says hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := New(Config{
		Port:    0,
		Trigger: TriggerEdgeListenEdgeConn,
		SrcDir:  dir,
		Workers: 2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Give the loop a moment to enter its first poller Wait.
	time.Sleep(20 * time.Millisecond)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(r.ListenPort()))
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, err = conn.Write([]byte("GET /index.html HTTP/1.1\r\nConnection: close\r\n\r\n"))
	if err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	body, err := io.ReadAll(conn)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}

	resp := string(body)
	if !strings.Contains(resp, "200 OK") {
		t.Fatalf("expected 200 OK, got %q", resp)
	}
	if !strings.Contains(resp, "reactor says hi") {
		t.Fatalf("expected body, got %q", resp)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not shut down after context cancel")
	}
}
