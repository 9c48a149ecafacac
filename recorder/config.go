package recorder

import (
	"context"
	"database/sql"

	"github.com/hazyhaar/uxwatch/recorder/internal/config"
	"github.com/hazyhaar/uxwatch/recorder/internal/journal"
)

// Config is the top-level uxwatch configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// SessionConfig describes one recording session.
type SessionConfig = config.SessionConfig

// CollectorConfig controls in-page debouncing.
type CollectorConfig = config.CollectorConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// Sink types accepted in SinkConfig.Type.
const (
	SinkFile    = config.SinkFile
	SinkStdout  = config.SinkStdout
	SinkJSONL   = config.SinkJSONL
	SinkWebhook = config.SinkWebhook
)

// Target is a row of the watch_targets table.
type Target = config.Target

// ErrTargetNotFound is returned by LoadTarget for unknown or inactive ids.
var ErrTargetNotFound = config.ErrTargetNotFound

// Journal records sessions in the watch_sessions table.
type Journal = journal.Journal

// SessionRecord is a row of the watch_sessions table.
type SessionRecord = journal.Session

// ErrSessionNotFound is returned by Journal.Get for unknown ids.
var ErrSessionNotFound = journal.ErrSessionNotFound

// Schema creates the watch_targets and watch_sessions tables.
const Schema = config.Schema + journal.Schema

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// LoadTarget reads one active target from db.
func LoadTarget(ctx context.Context, db *sql.DB, id string) (*Target, error) {
	return config.LoadTarget(ctx, db, id)
}

// LoadTargets reads every active target from db.
func LoadTargets(ctx context.Context, db *sql.DB) ([]Target, error) {
	return config.LoadTargets(ctx, db)
}

// NewJournal wraps a database created with Schema.
func NewJournal(db *sql.DB) *Journal {
	return journal.New(db)
}
