// Package companion loads the optional user-intention interface script that
// is injected next to the collector. A missing file degrades the session, it
// never stops it.
package companion

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// DefaultPath is looked up relative to the working directory.
const DefaultPath = "intention-buttons.js"

// MaxSize caps the script size (1 MiB).
const MaxSize int64 = 1 << 20

// ErrMissing is returned when the script file does not exist.
var ErrMissing = errors.New("companion: script not found")

// Load reads the script at path. Empty path means DefaultPath.
func Load(path string) ([]byte, error) {
	if path == "" {
		path = DefaultPath
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return nil, fmt.Errorf("companion: open: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("companion: read %s: %w", path, err)
	}
	if int64(len(data)) > MaxSize {
		return nil, fmt.Errorf("companion: %s exceeds %d bytes", path, MaxSize)
	}
	return data, nil
}

// WarningMessage is the session-log line written when the script is absent.
func WarningMessage(path string) string {
	if path == "" {
		path = DefaultPath
	}
	return fmt.Sprintf("Warning: %s not found, skipping interface injection", path)
}
