package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite ledger at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	if err := requireLockable(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Conditional claims must serialise on one writer.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Schema is shared by the SQLite and PostgreSQL ledgers. Timestamps are
// fixed-width RFC 3339 text so both engines compare them the same way.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS export_jobs (
  origin_snapshot_id  TEXT PRIMARY KEY,
  job_id              TEXT NOT NULL,
  origin_snapshot_arn TEXT,
  source_type         TEXT,
  working_cluster_id  TEXT,
  working_snapshot_id TEXT,
  export_task_id      TEXT,
  state               TEXT NOT NULL,
  attempts            TEXT NOT NULL DEFAULT '{}',
  created_at          TEXT NOT NULL,
  last_transition_at  TEXT NOT NULL,
  last_error_kind     TEXT,
  last_error          TEXT,
  lease               TEXT NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS job_log (
  id                 TEXT PRIMARY KEY,
  job_id             TEXT NOT NULL,
  origin_snapshot_id TEXT NOT NULL,
  from_state         TEXT,
  to_state           TEXT NOT NULL,
  error_kind         TEXT,
  message            TEXT,
  created_at         TEXT NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS cleanup_markers (
  id                 TEXT PRIMARY KEY,
  job_id             TEXT NOT NULL,
  origin_snapshot_id TEXT NOT NULL,
  resource_type      TEXT NOT NULL,
  resource_id        TEXT NOT NULL,
  error_kind         TEXT,
  error              TEXT,
  recorded_at        TEXT NOT NULL,
  resolved_at        TEXT
);`,
	`CREATE INDEX IF NOT EXISTS export_jobs_state_idx ON export_jobs(state, last_transition_at);`,
	`CREATE INDEX IF NOT EXISTS job_log_job_id_idx ON job_log(job_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS cleanup_markers_resolved_idx ON cleanup_markers(resolved_at);`,
}

// Bootstrap creates tables/indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	for _, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap ledger schema: %w", err)
		}
	}
	return nil
}
