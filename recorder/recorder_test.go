package recorder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/uxwatch/dbopen"
	"github.com/hazyhaar/uxwatch/recorder"
	"github.com/hazyhaar/uxwatch/recorder/interaction"
	"github.com/hazyhaar/uxwatch/recorder/internal/collector"
	"github.com/hazyhaar/uxwatch/recorder/internal/collector/collectortest"
)

const startURL = "https://shop.example/"

// fakeHost is an in-memory browser: the page simulates the collector
// record, the rest is driven by the test.
type fakeHost struct {
	*collectortest.Page

	gotoErr error
	navs    chan interaction.Navigation
	disc    chan struct{}
	discOne sync.Once
	closed  atomic.Bool
}

func newHost() *fakeHost {
	return &fakeHost{
		Page: collectortest.New(),
		navs: make(chan interaction.Navigation, 4),
		disc: make(chan struct{}),
	}
}

func (h *fakeHost) Goto(ctx context.Context, url string) (int, error) {
	if h.gotoErr != nil {
		return 0, h.gotoErr
	}
	h.Page.Navigate()
	return 200, nil
}

func (h *fakeHost) Navigations(ctx context.Context) <-chan interaction.Navigation { return h.navs }
func (h *fakeHost) Disconnected() <-chan struct{}                               { return h.disc }
func (h *fakeHost) Closed() bool                                                { return h.closed.Load() }
func (h *fakeHost) Close() error                                                { return nil }

func (h *fakeHost) disconnect() {
	h.discOne.Do(func() {
		h.closed.Store(true)
		close(h.disc)
	})
}

// entries collects the session log.
type entries struct {
	mu  sync.Mutex
	all []interaction.Entry
}

func (e *entries) sink() recorder.Sink {
	return recorder.NewCallbackSink(func(_ context.Context, en interaction.Entry) error {
		e.mu.Lock()
		e.all = append(e.all, en)
		e.mu.Unlock()
		return nil
	})
}

func (e *entries) messages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.all))
	for i, en := range e.all {
		out[i] = en.Message
	}
	return out
}

func (e *entries) has(msg string) bool {
	for _, m := range e.messages() {
		if m == msg {
			return true
		}
	}
	return false
}

func testConfig(t *testing.T) *recorder.Config {
	t.Helper()
	cfg := recorder.DefaultConfig()
	cfg.Session.URL = startURL
	cfg.Session.PollInterval = 10 * time.Millisecond
	cfg.Session.ErrorBackoff = 20 * time.Millisecond
	cfg.Session.CompanionScript = filepath.Join(t.TempDir(), "intention-buttons.js")
	return cfg
}

// waitFor polls cond for up to 2s.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type result struct {
	term interaction.Termination
	err  error
}

func start(s *recorder.Session) <-chan result {
	done := make(chan result, 1)
	go func() {
		term, err := s.Run(context.Background())
		done <- result{term, err}
	}()
	return done
}

func wait(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end")
	}
	return result{}
}

func TestRun_MissingCompanionReachesRunning(t *testing.T) {
	host := newHost()
	log := &entries{}
	s := recorder.New(testConfig(t), host, nil, log.sink())

	done := start(s)
	waitFor(t, "RUNNING", func() bool { return s.State() == recorder.StateRunning })
	host.disconnect()
	r := wait(t, done)

	if r.err != nil || r.term != interaction.TerminationBrowserClosed {
		t.Fatalf("Run: term=%v err=%v", r.term, r.err)
	}
	msgs := log.messages()
	if msgs[0] != "Session started - Navigated to: "+startURL {
		t.Fatalf("first line: %q", msgs[0])
	}
	if !strings.HasPrefix(msgs[1], "Warning: ") || !strings.HasSuffix(msgs[1], "not found, skipping interface injection") {
		t.Fatalf("warning line: %q", msgs[1])
	}
	if msgs[2] != "Monitoring initialized" {
		t.Fatalf("third line: %q", msgs[2])
	}
	if msgs[len(msgs)-1] != "Session ended" {
		t.Fatalf("last line: %q", msgs[len(msgs)-1])
	}
	if s.State() != recorder.StateStopped {
		t.Errorf("State after end: %v", s.State())
	}
}

func TestRun_CompanionInjected(t *testing.T) {
	host := newHost()
	cfg := testConfig(t)
	src := "(function createIntentionInterface() {})();"
	if err := os.WriteFile(cfg.Session.CompanionScript, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	log := &entries{}
	s := recorder.New(cfg, host, nil, log.sink())

	done := start(s)
	waitFor(t, "RUNNING", func() bool { return s.State() == recorder.StateRunning })
	host.disconnect()
	wait(t, done)

	if got := host.Companions(); len(got) != 1 || !strings.Contains(got[0], src) {
		t.Fatalf("companions: %v", got)
	}
	for _, m := range log.messages() {
		if strings.HasPrefix(m, "Warning:") {
			t.Fatalf("unexpected warning %q", m)
		}
	}
}

func TestRun_DrainsInteractions(t *testing.T) {
	host := newHost()
	log := &entries{}
	cfg := testConfig(t)
	cfg.Session.PollInterval = 200 * time.Millisecond
	s := recorder.New(cfg, host, nil, log.sink())

	done := start(s)
	// Interact right after a drain so every event lands in the next one.
	waitFor(t, "first cycle", func() bool { c, _, _ := s.Stats(); return c >= 1 })
	host.Click(3, 4)
	host.Click(5, 6)
	host.Input("INPUT", "blue shoes")
	waitFor(t, "drain", func() bool { return log.has("Last input value: blue shoes") })
	host.disconnect()
	wait(t, done)

	for _, want := range []string{"Detected 2 click(s)", "Click detected at: 3, 4", "Click detected at: 5, 6", "Input detected on INPUT element"} {
		if !log.has(want) {
			t.Errorf("missing %q in %v", want, log.messages())
		}
	}
	n := 0
	for _, m := range log.messages() {
		if strings.HasPrefix(m, "Detected 2 click(s)") {
			n++
		}
	}
	if n != 1 {
		t.Errorf("clicks reported %d times", n)
	}
}

func TestRun_NavigationReinstalls(t *testing.T) {
	host := newHost()
	log := &entries{}
	s := recorder.New(testConfig(t), host, nil, log.sink())

	done := start(s)
	waitFor(t, "RUNNING", func() bool { return s.State() == recorder.StateRunning })
	host.Navigate()
	host.navs <- interaction.Navigation{URL: "https://shop.example/cart", Main: true}
	waitFor(t, "navigation line", func() bool { return log.has("Navigation - New URL: https://shop.example/cart") })
	waitFor(t, "rearmed", func() bool { _, ok := host.State(); return ok })
	host.disconnect()
	wait(t, done)

	if host.Listeners() != 1 {
		t.Errorf("listener sets: got %d, want 1", host.Listeners())
	}
}

func TestRun_InitializationFailure(t *testing.T) {
	host := newHost()
	host.gotoErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	log := &entries{}
	s := recorder.New(testConfig(t), host, nil, log.sink())

	term, err := s.Run(context.Background())
	if err == nil || term != interaction.TerminationError {
		t.Fatalf("Run: term=%v err=%v", term, err)
	}
	msgs := log.messages()
	if len(msgs) != 2 || msgs[0] != "Error during initialization: net::ERR_NAME_NOT_RESOLVED" || msgs[1] != "Session ended" {
		t.Fatalf("lines: %v", msgs)
	}
	if s.State() != recorder.StateStopped {
		t.Errorf("State: %v", s.State())
	}
}

func TestRun_InstallFailure(t *testing.T) {
	host := newHost()
	host.FailScript(collector.InstallScript(), errors.New("Execution context was destroyed"))
	log := &entries{}
	s := recorder.New(testConfig(t), host, nil, log.sink())

	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected initialization error")
	}
	if log.has("Monitoring initialized") {
		t.Fatalf("monitoring started after failed install: %v", log.messages())
	}
}

func TestRun_DurationElapsed(t *testing.T) {
	host := newHost()
	cfg := testConfig(t)
	cfg.Session.Duration = 80 * time.Millisecond
	log := &entries{}
	s := recorder.New(cfg, host, nil, log.sink())

	r := wait(t, start(s))
	if r.err != nil || r.term != interaction.TerminationTimeout {
		t.Fatalf("Run: term=%v err=%v", r.term, r.err)
	}
	for _, m := range log.messages() {
		if strings.HasPrefix(m, "Error during monitoring") {
			t.Fatalf("error logged after timeout: %v", log.messages())
		}
	}
}

func TestRun_PageClosed(t *testing.T) {
	host := newHost()
	s := recorder.New(testConfig(t), host, nil)

	done := start(s)
	waitFor(t, "RUNNING", func() bool { return s.State() == recorder.StateRunning })
	host.closed.Store(true)
	r := wait(t, done)
	if r.term != interaction.TerminationPageClosed {
		t.Fatalf("term: %v", r.term)
	}
}

func TestRun_NoEvaluationErrorWhenWindowCloses(t *testing.T) {
	host := newHost()
	log := &entries{}
	s := recorder.New(testConfig(t), host, nil, log.sink())

	done := start(s)
	waitFor(t, "RUNNING", func() bool { return s.State() == recorder.StateRunning })

	// The liveness check is in flight when the user closes the window: it
	// fails before the close events reach the session.
	var once sync.Once
	host.OnEvaluate(func(js string) {
		if js != collector.ScriptArmed {
			return
		}
		once.Do(func() {
			host.closed.Store(true)
			host.FailNext(errors.New("websocket: close 1006 (abnormal closure)"))
		})
	})

	r := wait(t, done)
	if r.term != interaction.TerminationPageClosed {
		t.Fatalf("term: %v", r.term)
	}
	msgs := log.messages()
	for _, m := range msgs {
		if strings.HasPrefix(m, "Evaluation error") || strings.HasPrefix(m, "Error during monitoring") {
			t.Fatalf("error logged for a closed window: %v", msgs)
		}
	}
	if msgs[len(msgs)-1] != "Session ended" {
		t.Errorf("last line: %q", msgs[len(msgs)-1])
	}
}

func TestRun_Interrupted(t *testing.T) {
	host := newHost()
	s := recorder.New(testConfig(t), host, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan result, 1)
	go func() {
		term, err := s.Run(ctx)
		done <- result{term, err}
	}()
	waitFor(t, "RUNNING", func() bool { return s.State() == recorder.StateRunning })
	cancel()
	r := wait(t, done)
	if r.err != nil || r.term != interaction.TerminationInterrupted {
		t.Fatalf("Run: term=%v err=%v", r.term, r.err)
	}
}

func TestRun_Journal(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(recorder.Schema))
	j := recorder.NewJournal(db)
	host := newHost()
	s := recorder.New(testConfig(t), host, nil).WithJournal(j, "shop")

	if !strings.HasPrefix(s.ID(), "sess_") {
		t.Fatalf("ID: %q", s.ID())
	}

	done := start(s)
	waitFor(t, "RUNNING", func() bool { return s.State() == recorder.StateRunning })
	host.disconnect()
	wait(t, done)

	row, err := j.Get(context.Background(), s.ID())
	if err != nil {
		t.Fatal(err)
	}
	if row.TargetID != "shop" || row.URL != startURL || row.Termination != interaction.TerminationBrowserClosed || row.EndedAt.IsZero() {
		t.Fatalf("journal row: %+v", row)
	}
}

func TestBuildSinks_FileFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Sinks = []recorder.SinkConfig{{Type: recorder.SinkFile}}
	started := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)

	sinks, path, err := recorder.BuildSinks(cfg, started, nil)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "events_20250102_030405.log" {
		t.Fatalf("path: %q", path)
	}

	host := newHost()
	host.gotoErr = errors.New("boom")
	s := recorder.New(cfg, host, nil, sinks...)
	s.Run(context.Background())
	s.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines: %q", lines)
	}
	for _, l := range lines {
		// [YYYY-MM-DD HH:MM:SS] message
		if len(l) < 22 || l[0] != '[' || l[20] != ']' || l[21] != ' ' {
			t.Fatalf("line format: %q", l)
		}
		if _, err := time.Parse(interaction.TimeLayout, l[1:20]); err != nil {
			t.Fatalf("timestamp %q: %v", l[1:20], err)
		}
	}
	if !strings.HasSuffix(lines[1], "] Session ended") {
		t.Fatalf("last line: %q", lines[1])
	}
}

func TestBuildSinks_Unknown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sinks = []recorder.SinkConfig{{Type: "nats"}}
	if _, _, err := recorder.BuildSinks(cfg, time.Now(), nil); err == nil {
		t.Fatal("expected error")
	}
}
