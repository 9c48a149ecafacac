package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hazyhaar/uxwatch/recorder/interaction"
	"github.com/hazyhaar/uxwatch/recorder/internal/sink"
)

// Sink is the output interface for session log entries.
type Sink = sink.Sink

// EntryFunc is called for each entry by a callback sink.
type EntryFunc = sink.EntryFunc

// NewFileSink opens events_<YYYYMMDD_HHMMSS>.log under dir for a session
// started at start.
func NewFileSink(dir string, start time.Time) (Sink, string, error) {
	f, err := sink.NewFile(dir, start)
	if err != nil {
		return nil, "", err
	}
	return f, f.Path(), nil
}

// NewConsoleSink prints bare messages, one per line.
func NewConsoleSink(w io.Writer) Sink {
	return sink.NewConsole(w)
}

// NewJSONLinesSink writes entries as JSON lines.
func NewJSONLinesSink(w io.Writer) Sink {
	return sink.NewJSONLines(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(fn func(ctx context.Context, e interaction.Entry) error) Sink {
	return sink.NewCallback(fn)
}

// BuildSinks creates the sinks listed in cfg.Sinks. It returns the log file
// path when a file sink is configured.
func BuildSinks(cfg *Config, start time.Time, logger *slog.Logger) ([]Sink, string, error) {
	var (
		sinks   []Sink
		logPath string
	)
	fail := func(err error) ([]Sink, string, error) {
		for _, s := range sinks {
			s.Close()
		}
		return nil, "", err
	}

	for i, sc := range cfg.Sinks {
		switch sc.Type {
		case SinkFile:
			if logPath != "" {
				continue
			}
			s, path, err := NewFileSink(cfg.Session.LogDir, start)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
			logPath = path
		case SinkStdout:
			sinks = append(sinks, NewConsoleSink(nil))
		case SinkJSONL:
			sinks = append(sinks, NewJSONLinesSink(nil))
		case SinkWebhook:
			sinks = append(sinks, NewWebhookSink(sc.URL, logger))
		default:
			return fail(fmt.Errorf("recorder: sinks[%d]: unknown type %q", i, sc.Type))
		}
	}
	return sinks, logPath, nil
}
