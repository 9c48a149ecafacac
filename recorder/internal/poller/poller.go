// Package poller implements the controller loop: on a fixed interval it
// checks that the collector is still present in the page, repairs it when it
// is not, and drains the accumulated interactions into the session log.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/uxwatch/recorder/interaction"
	"github.com/hazyhaar/uxwatch/recorder/internal/collector"
)

// State of the loop.
type State int32

const (
	StateRunning State = iota
	StateStopped
)

func (s State) String() string {
	if s == StateRunning {
		return "RUNNING"
	}
	return "STOPPED"
}

// ErrStopped is returned by Cycle once the page or the session is gone.
var ErrStopped = errors.New("poller: stopped")

// Collector is satisfied by *collector.Collector.
type Collector interface {
	Armed(ctx context.Context) bool
	Install(ctx context.Context) (bool, error)
	Drain(ctx context.Context) (interaction.State, error)
}

// Config for creating a Loop.
type Config struct {
	Collector Collector
	Reporter  interaction.Reporter

	// Closed reports whether the page has gone away. Nil means never.
	Closed func() bool

	// PollInterval between successful cycles. Default: 500ms.
	PollInterval time.Duration
	// ErrorBackoff after a failed cycle. Default: 1s.
	ErrorBackoff time.Duration

	// Sleep waits d or until ctx is done. Default: timer-based.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = time.Second
	}
	if c.Closed == nil {
		c.Closed = func() bool { return false }
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Loop is the poll loop of one session.
type Loop struct {
	cfg      Config
	state    atomic.Int32
	cycles   atomic.Uint64
	failures atomic.Uint64
	repairs  atomic.Uint64
}

// New creates a Loop. It starts RUNNING: callers construct it only after the
// first navigation and install succeeded.
func New(cfg Config) *Loop {
	cfg.defaults()
	l := &Loop{cfg: cfg}
	l.state.Store(int32(StateRunning))
	return l
}

// State returns the current loop state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Cycles returns the number of cycles that completed without error.
func (l *Loop) Cycles() uint64 { return l.cycles.Load() }

// Failures returns the number of failed cycles.
func (l *Loop) Failures() uint64 { return l.failures.Load() }

// Repairs returns how many times the liveness check triggered a reinstall.
func (l *Loop) Repairs() uint64 { return l.repairs.Load() }

// Run polls until the page closes or ctx is done. Cycle failures are logged
// and followed by the error backoff; they never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.state.Store(int32(StateStopped))

	for {
		err := l.Cycle(ctx)
		if errors.Is(err, ErrStopped) || l.ended(ctx) {
			return nil
		}

		delay := l.cfg.PollInterval
		if err != nil {
			l.failures.Add(1)
			l.cfg.Logger.Warn("poller: cycle failed", "error", err)
			l.cfg.Reporter.Report(ctx, interaction.KindError, fmt.Sprintf("Error during monitoring: %v", err))
			delay = l.cfg.ErrorBackoff
		}

		if err := l.cfg.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// Cycle runs one liveness check and drain.
func (l *Loop) Cycle(ctx context.Context) error {
	if l.ended(ctx) {
		return ErrStopped
	}

	if !l.cfg.Collector.Armed(ctx) {
		if l.ended(ctx) {
			return ErrStopped
		}
		l.repairs.Add(1)
		l.cfg.Logger.Info("poller: collector missing, reinstalling")
		l.cfg.Reporter.Report(ctx, interaction.KindLifecycle, "Reinitializing monitors")
		if _, err := l.cfg.Collector.Install(ctx); err != nil {
			return fmt.Errorf("poller: repair: %w", err)
		}
	}

	if _, err := l.cfg.Collector.Drain(ctx); err != nil {
		if errors.Is(err, collector.ErrNoState) {
			// Lost to a navigation between the check and the read; the
			// navigation watcher or the next cycle reinstalls.
			l.cycles.Add(1)
			return nil
		}
		return err
	}

	l.cycles.Add(1)
	return nil
}

func (l *Loop) ended(ctx context.Context) bool {
	return ctx.Err() != nil || l.cfg.Closed()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
