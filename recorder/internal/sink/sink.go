// Package sink defines output backends for the session log.
package sink

import (
	"context"

	"github.com/hazyhaar/uxwatch/recorder/interaction"
)

// Sink is the output interface. Implementations deliver session log entries
// to different backends (file, console, webhook, in-process callback).
type Sink interface {
	Send(ctx context.Context, e interaction.Entry) error
	Close() error
}
