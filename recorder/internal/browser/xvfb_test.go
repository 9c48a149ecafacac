package browser

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDisplaySocket(t *testing.T) {
	tests := []struct {
		display string
		want    string
		ok      bool
	}{
		{":99", "/tmp/.X11-unix/X99", true},
		{":0.0", "/tmp/.X11-unix/X0", true},
		{"99", "", false},
		{"remote:1", "", false},
		{":x", "", false},
	}
	for _, tt := range tests {
		got, err := displaySocket(tt.display)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("displaySocket(%q) = %q, %v; want %q ok=%v", tt.display, got, err, tt.want, tt.ok)
		}
	}
}

func TestStartXvfb_ReusesRunningDisplay(t *testing.T) {
	dir := t.TempDir()
	old := x11SocketDir
	x11SocketDir = dir
	t.Cleanup(func() { x11SocketDir = old })

	if err := os.WriteFile(filepath.Join(dir, "X42"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DISPLAY", ":7")

	x, err := startXvfb(context.Background(), ":42", "", slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if x.owned || x.cmd != nil {
		t.Fatal("running display must not be restarted")
	}

	var displays []string
	for _, kv := range x.env() {
		if strings.HasPrefix(kv, "DISPLAY=") {
			displays = append(displays, kv)
		}
	}
	if len(displays) != 1 || displays[0] != "DISPLAY=:42" {
		t.Fatalf("DISPLAY entries: got %v", displays)
	}

	// Not ours to stop.
	x.stop(slog.Default())
}

func TestStartXvfb_BadDisplay(t *testing.T) {
	if _, err := startXvfb(context.Background(), "localhost:1", "", slog.Default()); err == nil {
		t.Fatal("startXvfb: expected error for a non-local display")
	}
}
