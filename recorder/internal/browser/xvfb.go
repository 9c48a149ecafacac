package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultXvfbScreen is the virtual screen geometry: a desktop-sized window
// for the person driving the session over VNC.
const DefaultXvfbScreen = "1920x1080x24"

// xvfbReadyTimeout bounds the wait for the X socket of a fresh server.
const xvfbReadyTimeout = 5 * time.Second

// x11SocketDir is where X servers create their unix sockets.
var x11SocketDir = "/tmp/.X11-unix"

// xvfb is a virtual X display. owned is false when the display was already
// served by another process; such a display is left running on stop.
type xvfb struct {
	display string
	cmd     *exec.Cmd
	exited  chan struct{}
	owned   bool
}

// displaySocket maps ":99" or ":99.0" to the X server's unix socket.
func displaySocket(display string) (string, error) {
	rest, ok := strings.CutPrefix(display, ":")
	if !ok {
		return "", fmt.Errorf("browser: display %q is not local (want :N)", display)
	}
	num, _, _ := strings.Cut(rest, ".")
	if _, err := strconv.Atoi(num); err != nil {
		return "", fmt.Errorf("browser: display %q: bad number", display)
	}
	return x11SocketDir + "/X" + num, nil
}

// startXvfb serves display with Xvfb unless an X server already listens
// there, and returns once the socket accepts clients.
func startXvfb(ctx context.Context, display, screen string, logger *slog.Logger) (*xvfb, error) {
	sock, err := displaySocket(display)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(sock); err == nil {
		logger.Info("browser: reusing X display", "display", display)
		return &xvfb{display: display}, nil
	}
	if screen == "" {
		screen = DefaultXvfbScreen
	}

	cmd := exec.Command("Xvfb", display, "-screen", "0", screen, "-nolisten", "tcp", "-ac")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("browser: start xvfb on %s: %w", display, err)
	}
	x := &xvfb{display: display, cmd: cmd, exited: make(chan struct{}), owned: true}
	go func() {
		cmd.Wait()
		close(x.exited)
	}()

	if err := x.waitReady(ctx, sock); err != nil {
		x.stop(logger)
		return nil, err
	}
	logger.Info("browser: xvfb started", "display", display, "screen", screen, "pid", cmd.Process.Pid)
	return x, nil
}

func (x *xvfb) waitReady(ctx context.Context, sock string) error {
	deadline := time.NewTimer(xvfbReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		if _, err := os.Stat(sock); err == nil {
			return nil
		}
		select {
		case <-x.exited:
			return fmt.Errorf("browser: xvfb on %s exited before accepting clients", x.display)
		case <-deadline.C:
			return fmt.Errorf("browser: xvfb on %s: no socket after %v", x.display, xvfbReadyTimeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// env returns the process environment with DISPLAY pointing at x.
func (x *xvfb) env() []string {
	env := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "DISPLAY=") {
			env = append(env, kv)
		}
	}
	return append(env, "DISPLAY="+x.display)
}

func (x *xvfb) stop(logger *slog.Logger) {
	if x == nil || !x.owned {
		return
	}
	if err := x.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn("browser: kill xvfb", "display", x.display, "error", err)
	}
	<-x.exited
	logger.Info("browser: xvfb stopped", "display", x.display)
}
