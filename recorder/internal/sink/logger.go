package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/uxwatch/recorder/interaction"
)

// Logger stamps messages with the wall clock and hands them to a Sink. It
// implements interaction.Reporter. Delivery failures are logged, never
// returned: the session keeps running when a sink fails.
type Logger struct {
	out    Sink
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	sessionID string
	pageURL   string
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) LoggerOption {
	return func(l *Logger) { l.now = now }
}

// WithSession tags every entry with a session ID.
func WithSession(id string) LoggerOption {
	return func(l *Logger) { l.sessionID = id }
}

// NewLogger creates a Logger writing to out.
func NewLogger(out Sink, logger *slog.Logger, opts ...LoggerOption) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{out: out, logger: logger, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// SetPageURL records the URL attached to subsequent entries.
func (l *Logger) SetPageURL(u string) {
	l.mu.Lock()
	l.pageURL = u
	l.mu.Unlock()
}

// Log writes a lifecycle entry.
func (l *Logger) Log(ctx context.Context, msg string) {
	l.Report(ctx, interaction.KindLifecycle, msg)
}

// Report writes one entry. The entry is delivered even when ctx is already
// cancelled so the closing lines of a session are never dropped.
func (l *Logger) Report(ctx context.Context, kind interaction.Kind, msg string) {
	l.mu.Lock()
	e := interaction.Entry{
		Time:      l.now(),
		Message:   msg,
		Kind:      kind,
		SessionID: l.sessionID,
		PageURL:   l.pageURL,
	}
	// Serialises delivery so lines land in report order.
	defer l.mu.Unlock()

	if err := l.out.Send(context.WithoutCancel(ctx), e); err != nil {
		l.logger.Warn("sink: entry dropped", "kind", kind, "error", err)
	}
}
