package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/uxwatch/recorder/interaction"
)

// ErrTabClosed is returned by Tab operations once the page target is gone.
var ErrTabClosed = errors.New("browser: tab closed")

// NavigateTimeout bounds Goto.
const NavigateTimeout = 30 * time.Second

// closeGrace is how long a failed evaluation waits for the tab's close
// events before it is reported as a plain failure.
const closeGrace = 200 * time.Millisecond

// Tab is the single instrumented page of a session. It implements the
// recorder's browser host: navigation with response status, in-page
// evaluation, main-frame navigation events and closure detection.
type Tab struct {
	Page    *rod.Page
	manager *Manager

	closed   atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
	stop     context.CancelFunc
}

// OpenTab creates a new tab (through go-rod/stealth when enabled) and starts
// watching for its target being destroyed.
func OpenTab(ctx context.Context, mgr *Manager) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error

	if mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		mgr.cfg.Logger.Warn("browser: target discovery failed", "error", err)
	}

	wctx, stop := context.WithCancel(ctx)
	t := &Tab{Page: page, manager: mgr, done: make(chan struct{}), stop: stop}

	targetID := page.TargetID
	wait := b.Context(wctx).EachEvent(
		func(e *proto.TargetTargetDestroyed) bool {
			if e.TargetID == targetID {
				t.markClosed()
				return true
			}
			return false
		},
		func(e *proto.TargetDetachedFromTarget) bool {
			if e.TargetID == targetID {
				t.markClosed()
				return true
			}
			return false
		},
	)
	go wait()
	go func() {
		select {
		case <-mgr.Disconnected():
			t.markClosed()
		case <-t.done:
		case <-wctx.Done():
		}
	}()

	return t, nil
}

func (t *Tab) markClosed() {
	t.doneOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		t.manager.cfg.Logger.Info("browser: tab closed")
	})
}

// Goto navigates to url and returns the HTTP status of the main document
// response. The status is 0 when the URL has no network response (about:,
// file:).
func (t *Tab) Goto(ctx context.Context, url string) (int, error) {
	if t.Closed() {
		return 0, ErrTabClosed
	}

	navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
	defer cancel()

	var status atomic.Int64
	frameID := t.Page.FrameID
	wait := t.Page.Context(navCtx).EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument || (frameID != "" && e.FrameID != frameID) {
			return false
		}
		status.Store(int64(e.Response.Status))
		return true
	})
	captured := make(chan struct{})
	go func() {
		wait()
		close(captured)
	}()

	if err := t.Page.Context(navCtx).Navigate(url); err != nil {
		return 0, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := t.Page.Context(navCtx).WaitLoad(); err != nil {
		t.manager.cfg.Logger.Warn("browser: wait load", "url", url, "error", err)
	}

	cancel()
	<-captured
	return int(status.Load()), nil
}

// Evaluate runs js, an arrow-function expression, with args and returns its
// JSON-encoded value. Promises are awaited.
func (t *Tab) Evaluate(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	if t.Closed() {
		return nil, ErrTabClosed
	}
	res, err := t.Page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		// Closing the window fails in-flight calls before the target and
		// disconnect events arrive.
		grace := time.NewTimer(closeGrace)
		defer grace.Stop()
		select {
		case <-t.done:
			return nil, fmt.Errorf("%w: %w", ErrTabClosed, err)
		case <-ctx.Done():
		case <-grace.C:
		}
		return nil, fmt.Errorf("browser: evaluate: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("browser: decode result: %w", err)
	}
	return raw, nil
}

// Navigations streams frame navigations until ctx is done or the tab closes.
func (t *Tab) Navigations(ctx context.Context) <-chan interaction.Navigation {
	out := make(chan interaction.Navigation, 16)
	nctx, cancel := context.WithCancel(ctx)

	wait := t.Page.Context(nctx).EachEvent(func(e *proto.PageFrameNavigated) {
		nav := interaction.Navigation{
			URL:     e.Frame.URL,
			FrameID: string(e.Frame.ID),
			Main:    e.Frame.ParentID == "",
		}
		select {
		case out <- nav:
		case <-nctx.Done():
		}
	})
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-nctx.Done():
		}
	}()
	go func() {
		defer close(out)
		defer cancel()
		wait()
	}()
	return out
}

// Disconnected is closed when the browser connection ends.
func (t *Tab) Disconnected() <-chan struct{} {
	return t.manager.Disconnected()
}

// Closed reports whether the tab is gone.
func (t *Tab) Closed() bool { return t.closed.Load() }

// Close closes the tab.
func (t *Tab) Close() error {
	defer t.stop()
	if t.Closed() || t.Page == nil {
		return nil
	}
	err := t.Page.Close()
	t.markClosed()
	return err
}
