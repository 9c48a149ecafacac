package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/uxwatch/recorder/interaction"
)

// Console prints the bare message of every entry, one per line, to an
// io.Writer (default os.Stdout).
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a Console sink. If w is nil, os.Stdout is used.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w}
}

func (s *Console) Send(_ context.Context, e interaction.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, e.Message)
	return err
}

func (s *Console) Close() error { return nil }
