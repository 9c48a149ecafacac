// Package recorder records a human-driven browser session. It navigates a
// browser tab to a start URL, keeps the in-page interaction collector
// installed across navigations, and drains what the user did into a
// timestamped session log until the browser closes or the session duration
// elapses.
//
// The recorder observes, it does not replay or interpret. Entries are
// emitted to sinks (log file, console, JSON lines, webhook, callback).
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/uxwatch/idgen"
	"github.com/hazyhaar/uxwatch/recorder/interaction"
	"github.com/hazyhaar/uxwatch/recorder/internal/browser"
	"github.com/hazyhaar/uxwatch/recorder/internal/collector"
	"github.com/hazyhaar/uxwatch/recorder/internal/companion"
	"github.com/hazyhaar/uxwatch/recorder/internal/journal"
	"github.com/hazyhaar/uxwatch/recorder/internal/navwatch"
	"github.com/hazyhaar/uxwatch/recorder/internal/poller"
	"github.com/hazyhaar/uxwatch/recorder/internal/sink"
)

// Session end causes.
var (
	ErrBrowserClosed   = errors.New("recorder: browser closed")
	ErrPageClosed      = errors.New("recorder: page closed")
	ErrDurationElapsed = errors.New("recorder: session duration elapsed")
)

// Host is the browser automation surface a session drives. *browser.Tab
// implements it over Chrome DevTools.
type Host interface {
	// Goto navigates and returns the main document's HTTP status.
	Goto(ctx context.Context, url string) (int, error)
	// Evaluate runs an arrow-function expression with args and returns its
	// JSON value.
	Evaluate(ctx context.Context, js string, args ...any) (json.RawMessage, error)
	// Navigations streams frame navigations until ctx is done.
	Navigations(ctx context.Context) <-chan interaction.Navigation
	// Disconnected is closed when the browser goes away.
	Disconnected() <-chan struct{}
	// Closed reports whether the page is gone.
	Closed() bool
	Close() error
}

// State of a session's poll loop.
type State = poller.State

const (
	StateRunning = poller.StateRunning
	StateStopped = poller.StateStopped
)

// Session is one recording: one start URL, one tab, one session log.
type Session struct {
	cfg    *Config
	host   Host
	logger *slog.Logger
	out    *sink.Router
	now    func() time.Time

	id       string
	started  time.Time
	logPath  string
	journal  *journal.Journal
	targetID string

	loop    atomic.Pointer[poller.Loop]
	closers []func() error
	once    sync.Once
}

// New creates a session driving host. Entries go to every sink; Close
// closes them.
func New(cfg *Config, host Host, logger *slog.Logger, sinks ...Sink) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Session{
		cfg:     cfg,
		host:    host,
		logger:  logger,
		out:     sink.NewRouter(logger, sinks...),
		now:     time.Now,
		id:      idgen.Session(),
		started: time.Now(),
	}
}

// Launch starts Chrome, opens the session tab and builds the sinks listed in
// cfg.Sinks, plus extra. The log file is named after the launch time.
func Launch(ctx context.Context, cfg *Config, logger *slog.Logger, extra ...Sink) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	started := time.Now()
	sinks, logPath, err := BuildSinks(cfg, started, logger)
	if err != nil {
		return nil, err
	}
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:   cfg.Browser.Remote,
		Bin:         cfg.Browser.Bin,
		Headless:    cfg.Browser.Headless,
		Stealth:     cfg.Browser.Stealth,
		XvfbDisplay: cfg.Browser.XvfbDisplay,
		XvfbScreen:  cfg.Browser.XvfbScreen,
		Logger:      logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		closeAll()
		return nil, fmt.Errorf("recorder: start browser: %w", err)
	}

	tab, err := browser.OpenTab(ctx, mgr)
	if err != nil {
		mgr.Close()
		closeAll()
		return nil, fmt.Errorf("recorder: open tab: %w", err)
	}

	s := New(cfg, tab, logger, append(sinks, extra...)...)
	s.started = started
	s.logPath = logPath
	s.closers = append(s.closers, mgr.Close)
	if logPath != "" {
		logger.Info("recorder: logging events", "path", logPath)
	}
	return s, nil
}

// WithJournal records the session in j, attributed to targetID (may be
// empty). Call before Run.
func (s *Session) WithJournal(j *Journal, targetID string) *Session {
	s.journal = j
	s.targetID = targetID
	return s
}

// ID returns the session identifier ("sess_<uuidv7>").
func (s *Session) ID() string { return s.id }

// LogPath returns the session log file, empty without a file sink.
func (s *Session) LogPath() string { return s.logPath }

// State returns RUNNING while the poll loop runs, STOPPED otherwise.
func (s *Session) State() State {
	if l := s.loop.Load(); l != nil {
		return l.State()
	}
	return StateStopped
}

// Stats returns poll-loop counters: completed cycles, failed cycles and
// repair installs.
func (s *Session) Stats() (cycles, failures, repairs uint64) {
	if l := s.loop.Load(); l != nil {
		return l.Cycles(), l.Failures(), l.Repairs()
	}
	return 0, 0, 0
}

// Run records until the browser or page closes, the configured duration
// elapses or ctx is cancelled. A failed navigation or first install is
// returned as an error; every other end is a normal termination.
func (s *Session) Run(ctx context.Context) (interaction.Termination, error) {
	log := sink.NewLogger(s.out, s.logger, sink.WithClock(s.now), sink.WithSession(s.id))
	url := s.cfg.Session.URL

	term := interaction.TerminationError
	var runErr error
	journaled := false
	defer func() {
		log.Log(ctx, "Session ended")
		s.logger.Info("recorder: session ended", "session", s.id, "termination", term, "error", runErr)
		if journaled {
			jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.journal.Finish(jctx, s.id, s.now(), term, runErr); err != nil {
				s.logger.Warn("recorder: journal finish failed", "session", s.id, "error", err)
			}
		}
	}()

	initFailed := func(err error) (interaction.Termination, error) {
		log.Report(ctx, interaction.KindError, fmt.Sprintf("Error during initialization: %v", err))
		runErr = fmt.Errorf("recorder: initialize: %w", err)
		return term, runErr
	}

	status, err := s.host.Goto(ctx, url)
	if err != nil {
		return initFailed(err)
	}
	s.logger.Info("recorder: page loaded", "url", url, "status", status)
	log.SetPageURL(url)
	log.Log(ctx, "Session started - Navigated to: "+url)

	if s.journal != nil {
		err := s.journal.Start(ctx, journal.Session{
			ID:        s.id,
			TargetID:  s.targetID,
			URL:       url,
			LogPath:   s.logPath,
			StartedAt: s.started,
		})
		if err != nil {
			s.logger.Warn("recorder: journal start failed", "session", s.id, "error", err)
		} else {
			journaled = true
		}
	}

	src, err := companion.Load(s.cfg.Session.CompanionScript)
	switch {
	case errors.Is(err, companion.ErrMissing):
		s.logger.Warn("recorder: companion script missing", "path", s.cfg.Session.CompanionScript)
		log.Report(ctx, interaction.KindWarning, companion.WarningMessage(s.cfg.Session.CompanionScript))
	case err != nil:
		s.logger.Warn("recorder: companion script unreadable", "path", s.cfg.Session.CompanionScript, "error", err)
		log.Report(ctx, interaction.KindWarning, fmt.Sprintf("Warning: %v, skipping interface injection", err))
	}

	c := collector.New(collector.Config{
		Page:           s.host,
		Reporter:       log,
		ScrollDebounce: s.cfg.Collector.ScrollDebounce,
		HoverDebounce:  s.cfg.Collector.HoverDebounce,
		Companion:      src,
		Closed:         s.host.Closed,
		Logger:         s.logger,
	})
	if _, err := c.Install(ctx); err != nil {
		return initFailed(err)
	}
	log.Log(ctx, "Monitoring initialized")

	term, runErr = s.monitor(ctx, c, log)
	return term, runErr
}

// monitor runs the poll loop, the navigation watcher and the disconnect
// watcher until one of them ends the session.
func (s *Session) monitor(ctx context.Context, c *collector.Collector, log *sink.Logger) (interaction.Termination, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if d := s.cfg.Session.Duration; d > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, d, ErrDurationElapsed)
		defer stop()
	}

	loop := poller.New(poller.Config{
		Collector:    c,
		Reporter:     log,
		Closed:       s.host.Closed,
		PollInterval: s.cfg.Session.PollInterval,
		ErrorBackoff: s.cfg.Session.ErrorBackoff,
		Logger:       s.logger,
	})
	s.loop.Store(loop)

	nav := navwatch.New(c, log, navwatch.WithLogger(s.logger), navwatch.WithURLHook(log.SetPageURL))

	s.logger.Info("recorder: monitoring", "session", s.id, "url", s.cfg.Session.URL, "duration", s.cfg.Session.Duration)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		err := loop.Run(gctx)
		if s.host.Closed() {
			cancel(ErrPageClosed)
		}
		return err
	})
	g.Go(func() error {
		return nav.Run(gctx, s.host.Navigations(gctx))
	})
	g.Go(func() error {
		select {
		case <-s.host.Disconnected():
			cancel(ErrBrowserClosed)
		case <-gctx.Done():
		}
		return nil
	})
	err := g.Wait()

	term := s.termination(ctx, runCtx)
	if err != nil {
		return interaction.TerminationError, fmt.Errorf("recorder: monitor: %w", err)
	}
	return term, nil
}

func (s *Session) termination(parent, runCtx context.Context) interaction.Termination {
	select {
	case <-s.host.Disconnected():
		return interaction.TerminationBrowserClosed
	default:
	}
	cause := context.Cause(runCtx)
	switch {
	case errors.Is(cause, ErrBrowserClosed):
		return interaction.TerminationBrowserClosed
	case errors.Is(cause, ErrPageClosed):
		return interaction.TerminationPageClosed
	case errors.Is(cause, ErrDurationElapsed):
		return interaction.TerminationTimeout
	case parent.Err() != nil:
		return interaction.TerminationInterrupted
	case s.host.Closed():
		return interaction.TerminationPageClosed
	}
	return interaction.TerminationError
}

// Close closes the tab, the browser and every sink.
func (s *Session) Close() error {
	var firstErr error
	s.once.Do(func() {
		if err := s.host.Close(); err != nil {
			firstErr = err
		}
		for _, c := range s.closers {
			if err := c(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := s.out.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}
