package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Schema for the watch_targets table.
const Schema = `
CREATE TABLE IF NOT EXISTS watch_targets (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	log_dir     TEXT DEFAULT '',
	duration_ms INTEGER DEFAULT 0,
	status      TEXT DEFAULT 'active',
	updated_at  INTEGER NOT NULL
);
`

// ErrTargetNotFound is returned by LoadTarget for unknown or inactive ids.
var ErrTargetNotFound = errors.New("config: target not found")

// Target is a row from the watch_targets table.
type Target struct {
	ID        string
	URL       string
	LogDir    string
	Duration  time.Duration
	Status    string
	UpdatedAt time.Time
}

// Apply copies the target's session settings over cfg. Empty columns keep
// the file values.
func (t Target) Apply(cfg *Config) {
	cfg.Session.URL = t.URL
	if t.LogDir != "" {
		cfg.Session.LogDir = t.LogDir
	}
	if t.Duration > 0 {
		cfg.Session.Duration = t.Duration
	}
}

const targetColumns = `id, url, log_dir, duration_ms, status, updated_at`

// LoadTarget reads one active target.
func LoadTarget(ctx context.Context, db *sql.DB, id string) (*Target, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+targetColumns+`
		FROM watch_targets
		WHERE id = ? AND status = 'active'
	`, id)
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("config: load target %s: %w", id, err)
	}
	return t, nil
}

// LoadTargets reads all active targets, oldest update first.
func LoadTargets(ctx context.Context, db *sql.DB) ([]Target, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+targetColumns+`
		FROM watch_targets
		WHERE status = 'active'
		ORDER BY updated_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load targets: %w", err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("config: scan target: %w", err)
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(s scanner) (*Target, error) {
	var t Target
	var durMs, updated int64
	if err := s.Scan(&t.ID, &t.URL, &t.LogDir, &durMs, &t.Status, &updated); err != nil {
		return nil, err
	}
	t.Duration = time.Duration(durMs) * time.Millisecond
	t.UpdatedAt = time.UnixMilli(updated)
	return &t, nil
}
