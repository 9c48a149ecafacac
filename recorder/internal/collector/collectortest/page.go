// Package collectortest provides an in-memory page that answers the
// collector protocol scripts the way the injected collector would, for tests
// of the controller side without a browser.
package collectortest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hazyhaar/uxwatch/recorder/interaction"
	"github.com/hazyhaar/uxwatch/recorder/internal/collector"
)

// Page simulates one browser tab. Each Navigate starts a fresh document with
// no record and no listeners.
type Page struct {
	mu sync.Mutex

	state     *interaction.State
	listeners int // listener sets attached to the current document
	document  int
	epochs    int

	failures   []error
	scriptErrs map[string][]error

	calls      map[string]int
	companions []string

	hook func(js string)
}

// New returns a page showing an uninstrumented first document.
func New() *Page {
	return &Page{
		document:   1,
		scriptErrs: make(map[string][]error),
		calls:      make(map[string]int),
	}
}

// Evaluate implements collector.Page.
func (p *Page) Evaluate(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	p.mu.Lock()
	hook := p.hook
	p.mu.Unlock()
	if hook != nil {
		hook(js)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls[name(js)]++

	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		return nil, err
	}
	if q := p.scriptErrs[js]; len(q) > 0 {
		p.scriptErrs[js] = q[1:]
		return nil, q[0]
	}

	switch js {
	case collector.InstallScript():
		p.epochs++
		p.state = &interaction.State{
			Epoch:  fmt.Sprintf("doc%d-%d", p.document, p.epochs),
			Events: []string{},
		}
		if p.listeners > 0 {
			return json.RawMessage("false"), nil
		}
		p.listeners++
		return json.RawMessage("true"), nil

	case collector.ScriptArmed:
		return json.Marshal(p.state != nil)

	case collector.ScriptSnapshot:
		if p.state == nil {
			return json.RawMessage("null"), nil
		}
		return json.Marshal(p.state)

	case collector.ScriptResetCount:
		if p.owns(args) {
			field, _ := args[1].(string)
			for _, c := range interaction.Counters {
				if c.Field() == field {
					*p.counter(c) = 0
				}
			}
		}
		return json.RawMessage("null"), nil

	case collector.ScriptClearInput:
		if p.owns(args) {
			if v, _ := args[1].(string); v == p.state.LastInputValue {
				p.state.LastInputValue = ""
			}
		}
		return json.RawMessage("null"), nil

	case collector.ScriptDropEvents:
		if p.owns(args) {
			n, _ := args[1].(int)
			if n > len(p.state.Events) {
				n = len(p.state.Events)
			}
			p.state.Events = p.state.Events[n:]
		}
		return json.RawMessage("null"), nil
	}

	p.companions = append(p.companions, js)
	return json.RawMessage("null"), nil
}

// FailNext makes the next len(errs) evaluations fail, whatever the script.
func (p *Page) FailNext(errs ...error) {
	p.mu.Lock()
	p.failures = append(p.failures, errs...)
	p.mu.Unlock()
}

// FailScript makes the next evaluation of js fail with err.
func (p *Page) FailScript(js string, err error) {
	p.mu.Lock()
	p.scriptErrs[js] = append(p.scriptErrs[js], err)
	p.mu.Unlock()
}

// OnEvaluate registers fn to run before every evaluation, outside the lock.
func (p *Page) OnEvaluate(fn func(js string)) {
	p.mu.Lock()
	p.hook = fn
	p.mu.Unlock()
}

// Navigate replaces the document: the record and its listeners are gone.
func (p *Page) Navigate() {
	p.mu.Lock()
	p.state = nil
	p.listeners = 0
	p.document++
	p.mu.Unlock()
}

// DropState clears the record but keeps the document and its listeners,
// like a teardown racing the controller.
func (p *Page) DropState() {
	p.mu.Lock()
	p.state = nil
	p.mu.Unlock()
}

// Click fires a click at viewport coordinates.
func (p *Page) Click(x, y int) {
	p.fire(interaction.CounterClick, fmt.Sprintf("Click detected at: %d, %d", x, y))
}

// ClickLink fires a click on an anchor.
func (p *Page) ClickLink(text, href string) {
	p.fire(interaction.CounterClick, `Click detected on link: "`+text+`" (`+href+`)`)
}

// Key fires a keypress.
func (p *Page) Key(key string) {
	p.fire(interaction.CounterKeypress, "Key pressed: "+key)
}

// Scroll fires one settled scroll.
func (p *Page) Scroll(x, y int) {
	p.fire(interaction.CounterScroll, fmt.Sprintf("Page scrolled to: %d, %d", x, y))
}

// Hover fires one settled hover.
func (p *Page) Hover(x, y int) {
	p.fire(interaction.CounterHover, fmt.Sprintf("Hover detected at: %d, %d", x, y))
}

// Input fires an input event on a text field.
func (p *Page) Input(tag, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < p.listeners && p.state != nil; i++ {
		p.state.LastInputValue = value
		p.state.Events = append(p.state.Events, "Input detected on "+tag+" element")
	}
}

// State returns a copy of the page-side record and whether it exists.
func (p *Page) State() (interaction.State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return interaction.State{}, false
	}
	st := *p.state
	st.Events = append([]string(nil), p.state.Events...)
	return st, true
}

// Listeners returns how many listener sets the current document carries.
func (p *Page) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listeners
}

// Calls returns how many times a protocol script was evaluated. Use the
// collector script constants or "install" / "companion".
func (p *Page) Calls(script string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if script == collector.InstallScript() {
		script = "install"
	}
	return p.calls[name(script)]
}

// Companions returns the companion scripts evaluated so far.
func (p *Page) Companions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.companions...)
}

// fire runs every attached listener set, as duplicated listeners would.
func (p *Page) fire(c interaction.Counter, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < p.listeners && p.state != nil; i++ {
		*p.counter(c)++
		p.state.Events = append(p.state.Events, text)
	}
}

// owns reports whether a clear script's epoch argument names the current
// record. Callers hold p.mu.
func (p *Page) owns(args []any) bool {
	if p.state == nil || len(args) != 2 {
		return false
	}
	epoch, _ := args[0].(string)
	return epoch == p.state.Epoch
}

func (p *Page) counter(c interaction.Counter) *int {
	switch c {
	case interaction.CounterClick:
		return &p.state.ClickCount
	case interaction.CounterKeypress:
		return &p.state.KeypressCount
	case interaction.CounterScroll:
		return &p.state.ScrollCount
	default:
		return &p.state.HoverCount
	}
}

func name(js string) string {
	switch js {
	case collector.InstallScript(), "install":
		return "install"
	case collector.ScriptArmed, collector.ScriptSnapshot, collector.ScriptResetCount,
		collector.ScriptClearInput, collector.ScriptDropEvents:
		return js
	}
	return "companion"
}
