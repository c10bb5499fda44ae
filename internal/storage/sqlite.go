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

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist. The path must be on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := requireLocalDisk(path, statfsProbe); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pragmas := []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(pctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instruction_log (
  id            TEXT PRIMARY KEY,
  slot          INTEGER NOT NULL,
  command       TEXT,
  object        INTEGER NOT NULL,
  action        INTEGER NOT NULL,
  para1         INTEGER NOT NULL DEFAULT 0,
  para2         INTEGER NOT NULL DEFAULT 0,
  para_num      INTEGER NOT NULL DEFAULT 0,
  outcome       TEXT NOT NULL,
  code          INTEGER NOT NULL,
  dispatched_at TEXT,
  completed_at  TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS instruction_log_completed_at_idx ON instruction_log(completed_at);`,
		`CREATE INDEX IF NOT EXISTS instruction_log_object_action_idx ON instruction_log(object, action, completed_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
