package interaction

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCounterMessage(t *testing.T) {
	cases := []struct {
		c    Counter
		n    int
		want string
	}{
		{CounterClick, 3, "Detected 3 click(s)"},
		{CounterKeypress, 1, "Detected 1 keypress(es)"},
		{CounterScroll, 2, "Detected 2 scroll(s)"},
		{CounterHover, 7, "Detected 7 hover(s)"},
	}
	for _, tc := range cases {
		if got := tc.c.Message(tc.n); got != tc.want {
			t.Errorf("%s.Message(%d): got %q, want %q", tc.c, tc.n, got, tc.want)
		}
	}
}

func TestCounterField(t *testing.T) {
	if got := CounterKeypress.Field(); got != "keypressCount" {
		t.Fatalf("Field: got %q", got)
	}
}

func TestStateDecodesPageShape(t *testing.T) {
	raw := `{"clickCount":2,"keypressCount":0,"scrollCount":1,"hoverCount":0,
		"lastInputValue":"hello","events":["Key pressed: a","Page scrolled to: 0, 40"]}`

	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatal(err)
	}
	if s.Count(CounterClick) != 2 || s.Count(CounterScroll) != 1 {
		t.Fatalf("counts: got %+v", s)
	}
	if s.LastInputValue != "hello" {
		t.Errorf("LastInputValue: got %q", s.LastInputValue)
	}
	if len(s.Events) != 2 || s.Events[1] != "Page scrolled to: 0, 40" {
		t.Errorf("Events: got %v", s.Events)
	}
	if s.Empty() {
		t.Error("Empty: got true for populated state")
	}
}

func TestStateEmpty(t *testing.T) {
	if !(State{}).Empty() {
		t.Fatal("zero State should be empty")
	}
	if (State{HoverCount: 1}).Empty() {
		t.Fatal("hover count should make state non-empty")
	}
	if (State{Events: []string{"x"}}).Empty() {
		t.Fatal("pending events should make state non-empty")
	}
}

func TestEntryLine(t *testing.T) {
	e := Entry{
		Time:    time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local),
		Message: "Detected 1 click(s)",
	}
	want := "[2024-03-09 14:05:07] Detected 1 click(s)"
	if got := e.Line(); got != want {
		t.Fatalf("Line: got %q, want %q", got, want)
	}
}

func TestEntryJSON(t *testing.T) {
	e := &Entry{
		Time:      time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC),
		Message:   "Session ended",
		Kind:      KindLifecycle,
		SessionID: "sess_1",
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["kind"] != "lifecycle" || fields["session_id"] != "sess_1" || fields["message"] != "Session ended" {
		t.Fatalf("fields: got %v", fields)
	}
	if _, ok := fields["page_url"]; ok {
		t.Errorf("empty page_url must be omitted: %s", data)
	}
}
