package interaction

import "time"

// TimeLayout is the timestamp layout of a rendered log line.
const TimeLayout = "2006-01-02 15:04:05"

// Kind classifies a log entry for structured sinks. The text log ignores it.
type Kind string

const (
	KindLifecycle   Kind = "lifecycle"
	KindInteraction Kind = "interaction"
	KindWarning     Kind = "warning"
	KindError       Kind = "error"
)

// Entry is one immutable line of the session log.
type Entry struct {
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	PageURL   string    `json:"page_url,omitempty"`
}

// Line renders the entry as "[YYYY-MM-DD HH:MM:SS] <message>" without a
// trailing newline.
func (e Entry) Line() string {
	return "[" + e.Time.Format(TimeLayout) + "] " + e.Message
}
