// Package collector installs the interaction collector into a page and
// implements the controller side of the polling protocol: liveness check,
// repair install and drain. All page access goes through Page.Evaluate, the
// page-side record is never assumed to be shared memory.
package collector

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/uxwatch/recorder/interaction"
)

//go:embed collector.js
var collectorJS string

// Scripts evaluated against the page-side record. Exported for fakes.
//
// The clear scripts take the epoch of the snapshot being drained as their
// first argument and leave any other record alone.
const (
	ScriptArmed      = `() => !!window.__uxwatchState`
	ScriptSnapshot   = `() => window.__uxwatchState || null`
	ScriptResetCount = `(epoch, field) => { const s = window.__uxwatchState; if (s && s.epoch === epoch) s[field] = 0; }`
	ScriptClearInput = `(epoch, value) => { const s = window.__uxwatchState; if (s && s.epoch === epoch && s.lastInputValue === value) s.lastInputValue = ''; }`
	ScriptDropEvents = `(epoch, n) => { const s = window.__uxwatchState; if (s && s.epoch === epoch) s.events.splice(0, n); }`

	companionWrap = "() => {\n%s\n}"
)

// InstallScript returns the collector source evaluated by Install. It takes
// the scroll and hover debounce windows in milliseconds.
func InstallScript() string { return collectorJS }

// CompanionScript wraps a companion source the way Install evaluates it.
func CompanionScript(src []byte) string { return fmt.Sprintf(companionWrap, src) }

// ErrNoState is returned by Drain when the page has no collector record,
// typically because a navigation replaced the document.
var ErrNoState = errors.New("collector: no state in page")

// Page is the part of the browser host the collector needs.
type Page interface {
	Evaluate(ctx context.Context, js string, args ...any) (json.RawMessage, error)
}

// Config for creating a Collector.
type Config struct {
	Page Page

	// Reporter receives session-log lines (drained interactions, evaluation errors).
	Reporter interaction.Reporter

	// ScrollDebounce is the quiet window for scroll coalescing. Default: 100ms.
	ScrollDebounce time.Duration
	// HoverDebounce is the quiet window for hover detection. Default: 500ms.
	HoverDebounce time.Duration

	// Companion is injected verbatim after every install. Nil disables it.
	Companion []byte

	// Closed reports whether the page has gone away. Evaluation failures
	// after that are expected and not reported. Nil means never.
	Closed func() bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ScrollDebounce <= 0 {
		c.ScrollDebounce = 100 * time.Millisecond
	}
	if c.HoverDebounce <= 0 {
		c.HoverDebounce = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Reporter == nil {
		c.Reporter = interaction.ReporterFunc(func(context.Context, interaction.Kind, string) {})
	}
	if c.Closed == nil {
		c.Closed = func() bool { return false }
	}
}

// Collector owns the install and drain protocol for one page.
type Collector struct {
	cfg      Config
	mu       sync.Mutex // serialises installs from the poll loop and the navigation watcher
	installs int
}

// New creates a Collector for the configured page.
func New(cfg Config) *Collector {
	cfg.defaults()
	return &Collector{cfg: cfg}
}

// Install (re)creates the page-side record and attaches the listeners if this
// document has not been armed yet. The previous record, if any, is replaced
// wholesale: events not drained before the page context was lost are dropped.
// It reports whether listeners were attached by this call.
func (c *Collector) Install(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.cfg.Page.Evaluate(ctx, collectorJS,
		c.cfg.ScrollDebounce.Milliseconds(), c.cfg.HoverDebounce.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("collector: install: %w", err)
	}
	c.installs++

	var attached bool
	if err := json.Unmarshal(raw, &attached); err != nil {
		c.cfg.Logger.Debug("collector: unexpected install result", "raw", string(raw))
	}

	if len(c.cfg.Companion) > 0 {
		c.SafeEval(ctx, nil, CompanionScript(c.cfg.Companion))
	}

	c.cfg.Logger.Debug("collector: installed", "listeners_attached", attached, "installs", c.installs)
	return attached, nil
}

// Installs returns how many installs reached the page.
func (c *Collector) Installs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.installs
}

// Armed is the liveness check: it reports whether the current page context
// still holds a collector record. Evaluation failures count as not armed.
func (c *Collector) Armed(ctx context.Context) bool {
	raw := c.SafeEval(ctx, json.RawMessage("false"), ScriptArmed)
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false
	}
	return ok
}

// SafeEval evaluates js and returns def instead of failing. The error is
// logged and reported to the session log unless ctx is already done or the
// page is closed.
func (c *Collector) SafeEval(ctx context.Context, def json.RawMessage, js string, args ...any) json.RawMessage {
	raw, err := c.cfg.Page.Evaluate(ctx, js, args...)
	if err != nil {
		if ctx.Err() != nil || c.cfg.Closed() {
			c.cfg.Logger.Debug("collector: evaluation failed after stop", "error", err)
			return def
		}
		c.cfg.Logger.Warn("collector: evaluation failed", "error", err)
		c.cfg.Reporter.Report(ctx, interaction.KindError, fmt.Sprintf("Evaluation error: %v", err))
		return def
	}
	return raw
}

// Snapshot reads the full page-side record. A page without a record yields
// ErrNoState.
func (c *Collector) Snapshot(ctx context.Context) (interaction.State, error) {
	var st interaction.State
	raw, err := c.cfg.Page.Evaluate(ctx, ScriptSnapshot)
	if err != nil {
		return st, fmt.Errorf("collector: snapshot: %w", err)
	}
	if isNull(raw) {
		return st, ErrNoState
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("collector: decode snapshot: %w", err)
	}
	return st, nil
}

// Drain reads the record, reports every nonzero counter, the last input
// value and each pending event in order, then clears what it reported.
// Counters are reset one by one rather than by replacing the record, so a
// listener firing between the read and the reset of a counter loses that one
// increment; other counters are untouched. Clears are bound to the epoch of
// the snapshot: once a navigation has installed a new record they are no-ops.
func (c *Collector) Drain(ctx context.Context) (interaction.State, error) {
	st, err := c.Snapshot(ctx)
	if err != nil {
		return st, err
	}

	rep := c.cfg.Reporter
	for _, ctr := range interaction.Counters {
		n := st.Count(ctr)
		if n <= 0 {
			continue
		}
		rep.Report(ctx, interaction.KindInteraction, ctr.Message(n))
		c.SafeEval(ctx, nil, ScriptResetCount, st.Epoch, ctr.Field())
	}

	if st.LastInputValue != "" {
		rep.Report(ctx, interaction.KindInteraction, "Last input value: "+st.LastInputValue)
		c.SafeEval(ctx, nil, ScriptClearInput, st.Epoch, st.LastInputValue)
	}

	if len(st.Events) > 0 {
		for _, ev := range st.Events {
			rep.Report(ctx, interaction.KindInteraction, ev)
		}
		c.SafeEval(ctx, nil, ScriptDropEvents, st.Epoch, len(st.Events))
	}

	return st, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
