package screenshot

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestCaptureWritesImage(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/capture" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotURL = r.URL.Query().Get("url")
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := New(Config{Enabled: true, ServiceURL: srv.URL, OutputDir: dir}, slog.Default())

	path, err := c.Capture(context.Background(), "https://polymarket.com/event/test")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if gotURL != "https://polymarket.com/event/test" {
		t.Errorf("service received url %q", gotURL)
	}
	if !strings.HasPrefix(path, dir) || !strings.HasSuffix(path, ".png") {
		t.Errorf("path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read captured file: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("file content = %q", data)
	}
}

func TestCaptureDisabledIsNoop(t *testing.T) {
	c := New(Config{Enabled: false}, slog.Default())
	path, err := c.Capture(context.Background(), "https://polymarket.com/event/test")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty when disabled", path)
	}
}

func TestCaptureEmptyURLIsNoop(t *testing.T) {
	c := New(Config{Enabled: true, ServiceURL: "http://localhost:0"}, slog.Default())
	path, err := c.Capture(context.Background(), "")
	if err != nil || path != "" {
		t.Errorf("Capture(\"\") = (%q, %v), want (\"\", nil)", path, err)
	}
}

func TestCaptureServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "render failed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{Enabled: true, ServiceURL: srv.URL, OutputDir: t.TempDir()}, slog.Default())
	if _, err := c.Capture(context.Background(), "https://polymarket.com/event/test"); err == nil {
		t.Fatal("service error should propagate")
	}
}
