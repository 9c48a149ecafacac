package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/uxwatch/recorder/interaction"
)

// JSONLines writes every entry as a JSON line to an io.Writer (default
// os.Stdout).
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines creates a JSONLines sink. If w is nil, os.Stdout is used.
func NewJSONLines(w io.Writer) *JSONLines {
	if w == nil {
		w = os.Stdout
	}
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (s *JSONLines) Send(_ context.Context, e interaction.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: string(e.Kind), Data: e})
}

func (s *JSONLines) Close() error { return nil }

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
