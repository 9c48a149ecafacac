package sink

import (
	"context"

	"github.com/hazyhaar/uxwatch/recorder/interaction"
)

// EntryFunc is called for each entry.
type EntryFunc func(ctx context.Context, e interaction.Entry) error

// Callback delivers entries via Go function calls, for embedders that run
// the recorder in-process.
type Callback struct {
	fn EntryFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn EntryFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, e interaction.Entry) error {
	if c.fn != nil {
		return c.fn(ctx, e)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
