// Package interaction defines the types exchanged between the in-page
// collector, the controller and the session log sinks. Consumers that embed
// uxwatch import this package to receive log entries.
package interaction

import (
	"context"
	"fmt"
)

// Counter identifies one of the per-category counters kept by the collector.
type Counter string

const (
	CounterClick    Counter = "click"
	CounterKeypress Counter = "keypress"
	CounterScroll   Counter = "scroll"
	CounterHover    Counter = "hover"
)

// Counters lists the counters in drain order.
var Counters = []Counter{CounterClick, CounterKeypress, CounterScroll, CounterHover}

// Field is the property name of the counter inside the page-side state.
func (c Counter) Field() string {
	return string(c) + "Count"
}

// Message renders the drain summary for n occurrences.
func (c Counter) Message(n int) string {
	switch c {
	case CounterKeypress:
		return fmt.Sprintf("Detected %d keypress(es)", n)
	default:
		return fmt.Sprintf("Detected %d %s(s)", n, c)
	}
}

// State is a snapshot of the collector record living in the page context.
// The JSON tags match the page-side property names.
type State struct {
	// Epoch identifies the record. Every install creates a new one.
	Epoch          string   `json:"epoch"`
	ClickCount     int      `json:"clickCount"`
	KeypressCount  int      `json:"keypressCount"`
	ScrollCount    int      `json:"scrollCount"`
	HoverCount     int      `json:"hoverCount"`
	LastInputValue string   `json:"lastInputValue"`
	Events         []string `json:"events"`
}

// Count returns the value of counter c.
func (s State) Count(c Counter) int {
	switch c {
	case CounterClick:
		return s.ClickCount
	case CounterKeypress:
		return s.KeypressCount
	case CounterScroll:
		return s.ScrollCount
	case CounterHover:
		return s.HoverCount
	}
	return 0
}

// Empty reports whether a drain of s would log nothing.
func (s State) Empty() bool {
	for _, c := range Counters {
		if s.Count(c) != 0 {
			return false
		}
	}
	return s.LastInputValue == "" && len(s.Events) == 0
}

// Navigation is a frame navigation reported by the browser host.
type Navigation struct {
	URL     string `json:"url"`
	FrameID string `json:"frame_id"`
	Main    bool   `json:"main"` // top-level document
}

// Termination is why a session ended.
type Termination string

const (
	TerminationBrowserClosed Termination = "browser_closed"
	TerminationPageClosed    Termination = "page_closed"
	TerminationTimeout       Termination = "timeout"
	TerminationInterrupted   Termination = "interrupted"
	TerminationError         Termination = "error"
)

// Reporter appends a message to the session log.
type Reporter interface {
	Report(ctx context.Context, kind Kind, msg string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, kind Kind, msg string)

func (f ReporterFunc) Report(ctx context.Context, kind Kind, msg string) { f(ctx, kind, msg) }
