// Package journal records one row per recording session in SQLite so
// sessions launched from watch_targets can be audited afterwards.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/uxwatch/dbopen"
	"github.com/hazyhaar/uxwatch/recorder/interaction"
)

// Schema for the watch_sessions table.
const Schema = `
CREATE TABLE IF NOT EXISTS watch_sessions (
	id          TEXT PRIMARY KEY,
	target_id   TEXT DEFAULT '',
	url         TEXT NOT NULL,
	log_path    TEXT DEFAULT '',
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER,
	termination TEXT DEFAULT '',
	error       TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_watch_sessions_target ON watch_sessions(target_id, started_at);
`

// ErrSessionNotFound is returned by Get for unknown ids.
var ErrSessionNotFound = errors.New("journal: session not found")

// Session is a row of watch_sessions.
type Session struct {
	ID          string
	TargetID    string
	URL         string
	LogPath     string
	StartedAt   time.Time
	EndedAt     time.Time // zero while running
	Termination interaction.Termination
	Error       string
}

// Journal writes watch_sessions rows.
type Journal struct {
	db *sql.DB
}

// New wraps db. The schema must already exist (dbopen.WithSchema(Schema)).
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Start inserts the row for a session that just navigated.
func (j *Journal) Start(ctx context.Context, s Session) error {
	_, err := dbopen.Exec(ctx, j.db, `
		INSERT INTO watch_sessions (id, target_id, url, log_path, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.TargetID, s.URL, s.LogPath, s.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: start %s: %w", s.ID, err)
	}
	return nil
}

// Finish stamps the end of a session. runErr may be nil.
func (j *Journal) Finish(ctx context.Context, id string, at time.Time, term interaction.Termination, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return dbopen.RunTx(ctx, j.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE watch_sessions
			SET ended_at = ?, termination = ?, error = ?
			WHERE id = ? AND ended_at IS NULL
		`, at.UnixMilli(), string(term), msg, id)
		if err != nil {
			return fmt.Errorf("journal: finish %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("journal: finish %s: no open session", id)
		}
		return nil
	})
}

// Get returns one session.
func (j *Journal) Get(ctx context.Context, id string) (*Session, error) {
	var s Session
	var started int64
	var ended sql.NullInt64
	var term string
	err := j.db.QueryRowContext(ctx, `
		SELECT id, target_id, url, log_path, started_at, ended_at, termination, error
		FROM watch_sessions WHERE id = ?
	`, id).Scan(&s.ID, &s.TargetID, &s.URL, &s.LogPath, &started, &ended, &term, &s.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("journal: get %s: %w", id, err)
	}
	s.StartedAt = time.UnixMilli(started)
	if ended.Valid {
		s.EndedAt = time.UnixMilli(ended.Int64)
	}
	s.Termination = interaction.Termination(term)
	return &s, nil
}
