package response

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/searchktools/fast-server/internal/buffer"
)

func writeResource(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMakeResponseServesExistingFile(t *testing.T) {
	dir := t.TempDir()
	writeResource(t, dir, "index.html", "<html>hi</html>")

	var r Responder
	r.Init(dir, "/index.html", true, -1)
	buf := buffer.New(256)
	if err := r.MakeResponse(buf); err != nil {
		t.Fatal(err)
	}
	defer r.UnmapFile()

	head := buf.RetrieveAllToString()
	if !strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("expected 200 status line, got %q", head)
	}
	if !strings.Contains(head, "keep-alive") {
		t.Fatalf("expected keep-alive header, got %q", head)
	}
	if string(r.File()) != "<html>hi</html>" {
		t.Fatalf("unexpected mapped body: %q", r.File())
	}
	if r.FileLen() != int64(len("<html>hi</html>")) {
		t.Fatalf("unexpected file length: %d", r.FileLen())
	}
}

func TestMakeResponseMissingFileFallsBackTo404(t *testing.T) {
	dir := t.TempDir()
	writeResource(t, dir, "404.html", "not found here")

	var r Responder
	r.Init(dir, "/nope.html", false, -1)
	buf := buffer.New(256)
	if err := r.MakeResponse(buf); err != nil {
		t.Fatal(err)
	}
	defer r.UnmapFile()

	head := buf.RetrieveAllToString()
	if !strings.HasPrefix(head, "HTTP/1.1 404 Not Found\r\n") {
		t.Fatalf("expected 404 status line, got %q", head)
	}
	if string(r.File()) != "not found here" {
		t.Fatalf("expected 404 page body mapped, got %q", r.File())
	}
}

func TestContentTypeLookup(t *testing.T) {
	dir := t.TempDir()
	writeResource(t, dir, "style.css", "body{}")

	var r Responder
	r.Init(dir, "/style.css", false, -1)
	buf := buffer.New(256)
	if err := r.MakeResponse(buf); err != nil {
		t.Fatal(err)
	}
	defer r.UnmapFile()

	head := buf.RetrieveAllToString()
	if !strings.Contains(head, "Content-type: text/css \r\n") {
		t.Fatalf("expected text/css content-type quirk preserved, got %q", head)
	}
}

func TestUnknownExtensionFallsBackToPlainText(t *testing.T) {
	dir := t.TempDir()
	writeResource(t, dir, "data.bin", "x")

	var r Responder
	r.Init(dir, "/data.bin", false, -1)
	buf := buffer.New(256)
	if err := r.MakeResponse(buf); err != nil {
		t.Fatal(err)
	}
	defer r.UnmapFile()

	head := buf.RetrieveAllToString()
	if !strings.Contains(head, "Content-type: text/plain\r\n") {
		t.Fatalf("expected text/plain fallback, got %q", head)
	}
}
