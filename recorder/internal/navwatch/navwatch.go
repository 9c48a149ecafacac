// Package navwatch reinstalls the collector whenever the top-level document
// navigates. A navigation destroys the page context and with it the
// collector record; sub-frame navigations leave it intact and are ignored.
package navwatch

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/uxwatch/recorder/interaction"
)

// Installer is satisfied by *collector.Collector.
type Installer interface {
	Install(ctx context.Context) (bool, error)
}

// Watcher consumes navigation events from the browser host.
type Watcher struct {
	installer Installer
	reporter  interaction.Reporter
	logger    *slog.Logger
	onURL     func(string)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithURLHook is called with each main-frame URL before reinstalling.
func WithURLHook(fn func(url string)) Option {
	return func(w *Watcher) { w.onURL = fn }
}

// New creates a Watcher.
func New(installer Installer, reporter interaction.Reporter, opts ...Option) *Watcher {
	w := &Watcher{
		installer: installer,
		reporter:  reporter,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run handles navigations until ctx is done or events is closed.
func (w *Watcher) Run(ctx context.Context, events <-chan interaction.Navigation) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case nav, ok := <-events:
			if !ok {
				return nil
			}
			w.Handle(ctx, nav)
		}
	}
}

// Handle processes one navigation. It reports whether the collector was
// reinstalled.
func (w *Watcher) Handle(ctx context.Context, nav interaction.Navigation) bool {
	if !nav.Main {
		w.logger.Debug("navwatch: sub-frame navigation ignored", "url", nav.URL, "frame", nav.FrameID)
		return false
	}

	w.logger.Info("navwatch: navigation detected", "url", nav.URL)
	if w.onURL != nil {
		w.onURL(nav.URL)
	}
	w.reporter.Report(ctx, interaction.KindLifecycle, "Navigation - New URL: "+nav.URL)

	if _, err := w.installer.Install(ctx); err != nil {
		if ctx.Err() != nil {
			return false
		}
		// The poll loop's liveness check repairs this on its next cycle.
		w.logger.Warn("navwatch: reinstall failed", "url", nav.URL, "error", err)
		w.reporter.Report(ctx, interaction.KindWarning, "Reinstall after navigation failed: "+err.Error())
		return false
	}
	return true
}
