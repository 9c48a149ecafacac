package companion

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intention-buttons.js")
	src := "(function createIntentionInterface() {})();\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != src {
		t.Fatalf("Load: got %q", got)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.js"))
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("Load: got %v, want ErrMissing", err)
	}
}

func TestLoad_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.js")
	if err := os.WriteFile(path, make([]byte, MaxSize+1), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || errors.Is(err, ErrMissing) {
		t.Fatalf("Load: got %v, want size error", err)
	}
}

func TestWarningMessage(t *testing.T) {
	got := WarningMessage("")
	if !strings.HasPrefix(got, "Warning: intention-buttons.js not found") {
		t.Fatalf("WarningMessage: got %q", got)
	}
}
