// Package browser manages the Chrome instance a recording session drives:
// launch or remote attach via Rod, disconnect detection, and the single
// instrumented tab.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrClosed is returned when the manager was already closed.
var ErrClosed = errors.New("browser: manager is closed")

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Bin is the Chrome binary to launch. Empty = launcher lookup/download.
	Bin string

	// Headless hides the window. Sessions are human-driven, so the default
	// is a visible browser.
	Headless bool

	// Stealth opens tabs through go-rod/stealth and strips automation flags.
	Stealth bool

	// XvfbDisplay, when set and not Headless, runs Chrome on an Xvfb virtual
	// display (for driving the session over VNC on a server). A display
	// already served by another X server is reused.
	XvfbDisplay string

	// XvfbScreen is the virtual screen geometry. Default: 1920x1080x24.
	XvfbScreen string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager manages Chrome lifecycle.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *xvfb
	closed  bool

	disconnected chan struct{}
}

// NewManager creates a browser Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg, disconnected: make(chan struct{})}
}

// Start launches Chrome (or connects to a remote instance) and returns the
// Rod browser handle. It also starts watching the connection: Disconnected
// is closed once the browser goes away, whatever the reason.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.browser != nil {
		return m.browser, nil
	}

	b, err := m.launch(ctx)
	if err != nil {
		m.cleanup()
		return nil, err
	}
	m.browser = b

	go m.watch(b)

	return b, nil
}

// Browser returns the current Rod browser handle. Thread-safe.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Disconnected is closed when the CDP connection to Chrome ends.
func (m *Manager) Disconnected() <-chan struct{} {
	return m.disconnected
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.cleanup()
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx).Leakless(true).Headless(m.cfg.Headless)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}

		if !m.cfg.Headless && m.cfg.XvfbDisplay != "" {
			x, err := startXvfb(ctx, m.cfg.XvfbDisplay, m.cfg.XvfbScreen, log)
			if err != nil {
				return nil, err
			}
			m.xvfb = x
			l = l.Env(x.env()...)
		}

		if m.cfg.Stealth {
			l = l.Set("disable-blink-features", "AutomationControlled")
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headless", m.cfg.Headless, "stealth", m.cfg.Stealth)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

// watch drains the browser event stream. The stream is closed when the
// websocket drops, which is how a user closing the window shows up.
func (m *Manager) watch(b *rod.Browser) {
	for range b.Event() {
	}
	m.cfg.Logger.Info("browser: disconnected")
	close(m.disconnected)
}

func (m *Manager) cleanup() error {
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.xvfb.stop(m.cfg.Logger)
	m.xvfb = nil
	return err
}
