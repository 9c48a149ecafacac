package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hazyhaar/uxwatch/recorder/interaction"
)

// FileLayout is the timestamp layout embedded in session log file names.
const FileLayout = "20060102_150405"

// FileName returns the session log file name for a session started at t.
func FileName(t time.Time) string {
	return "events_" + t.Format(FileLayout) + ".log"
}

// File appends rendered lines to events_<YYYYMMDD_HHMMSS>.log. Each entry
// is a single unbuffered write so a crash loses at most the entry in flight.
type File struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// NewFile creates dir if needed and opens the session log file for a session
// started at start, in append mode.
func NewFile(dir string, start time.Time) (*File, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create log dir: %w", err)
	}
	path := filepath.Join(dir, FileName(start))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open log file: %w", err)
	}
	return &File{f: f, path: path}, nil
}

// Path returns the full path of the log file.
func (s *File) Path() string { return s.path }

func (s *File) Send(_ context.Context, e interaction.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("sink: file %s closed", s.path)
	}
	if _, err := s.f.WriteString(e.Line() + "\n"); err != nil {
		return fmt.Errorf("sink: write %s: %w", s.path, err)
	}
	return nil
}

func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
