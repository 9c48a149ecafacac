// Package idgen generates the identifiers uxwatch stamps on sessions.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// SessionPrefix marks recording session IDs.
const SessionPrefix = "sess_"

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings, which sort by
// creation time.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID produced by gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Session is the generator for session IDs: "sess_<uuidv7>".
var Session Generator = Prefixed(SessionPrefix, UUIDv7())

// ParseSession checks that id is a session ID and returns its UUID part.
func ParseSession(id string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(id, SessionPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("idgen: %q lacks the %s prefix", id, SessionPrefix)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, fmt.Errorf("idgen: invalid session id %q: %w", id, err)
	}
	return u, nil
}
