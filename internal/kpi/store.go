// Package kpi persists operational and advisory-performance indicators
// to a local SQLite database: per-tick section snapshots, every
// committed action with its predicted impact, and operator verdicts on
// recommendations.
package kpi

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	ts              TEXT NOT NULL,
	state_version   INTEGER NOT NULL,
	trains_active   INTEGER NOT NULL,
	trains_held     INTEGER NOT NULL,
	trains_done     INTEGER NOT NULL,
	total_delay_s   REAL NOT NULL,
	max_delay_s     REAL NOT NULL,
	conflicts_open  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS actions (
	id                    TEXT PRIMARY KEY,
	ts                    TEXT NOT NULL,
	type                  TEXT NOT NULL,
	train_id              TEXT NOT NULL,
	source                TEXT NOT NULL,
	explanation           TEXT NOT NULL,
	state_version         INTEGER NOT NULL,
	resolves              TEXT NOT NULL,
	net_delay_reduction_s REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS feedback (
	action_id TEXT NOT NULL,
	ts        TEXT NOT NULL,
	verdict   TEXT NOT NULL,
	note      TEXT
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts);
CREATE INDEX IF NOT EXISTS idx_feedback_action ON feedback(action_id);
`

// Store wraps the KPI database.
type Store struct {
	DB *sql.DB
}

// Open creates the database file (and its parent directory) if needed
// and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create kpi directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open kpi database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply kpi schema: %w", err)
	}
	return &Store{DB: db}, nil
}

// OpenInMemory is for tests and the offline simulator.
func OpenInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.DB.Close() }
