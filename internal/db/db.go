package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mkoskin/inflow/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Init initializes the SQLite database at baseDir/inflow.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.inflow.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, "inflow.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
// Call after Init if you need to tune pool behavior for contention.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS captures (
		  id               TEXT PRIMARY KEY,
		  created_at       INTEGER NOT NULL,
		  raw_text         TEXT NOT NULL,
		  source           TEXT NOT NULL,
		  source_id        TEXT,
		  source_link      TEXT,
		  clarify_status   TEXT NOT NULL,
		  clarify_attempts INTEGER NOT NULL DEFAULT 0,
		  last_clarify_at  INTEGER,
		  clarify_json     TEXT,
		  decision_status  TEXT,
		  decision_at      INTEGER,
		  decision_notes   TEXT,
		  commit_status    TEXT,
		  commit_attempts  INTEGER NOT NULL DEFAULT 0,
		  last_commit_at   INTEGER,
		  commit_error     TEXT,
		  task_id          TEXT,
		  task_series_id   TEXT,
		  list_id          TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_captures_clarify_status
		ON captures(clarify_status);

		CREATE INDEX IF NOT EXISTS idx_captures_commit_status
		ON captures(commit_status)
		WHERE commit_status IS NOT NULL;

		CREATE UNIQUE INDEX IF NOT EXISTS idx_captures_source_id
		ON captures(source, source_id)
		WHERE source_id IS NOT NULL;

		CREATE TABLE IF NOT EXISTS anchors (
		  id             TEXT PRIMARY KEY,
		  created_at     INTEGER NOT NULL,
		  kind           TEXT NOT NULL,
		  status         TEXT NOT NULL,
		  valid_until    TEXT NOT NULL,
		  external_state TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_anchors_kind_status
		ON anchors(kind, status);

		CREATE TABLE IF NOT EXISTS cached_tasks (
		  task_id           TEXT PRIMARY KEY,
		  task_series_id    TEXT NOT NULL,
		  list_id           TEXT NOT NULL,
		  name              TEXT NOT NULL,
		  created_at        INTEGER NOT NULL,
		  project_id        TEXT,
		  completed         INTEGER NOT NULL DEFAULT 0,
		  tags_json         TEXT,
		  times_suggested   INTEGER NOT NULL DEFAULT 0,
		  last_suggested_at INTEGER,
		  last_synced_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cached_tasks_suggested
		ON cached_tasks(last_suggested_at)
		WHERE completed = 0;

		CREATE TABLE IF NOT EXISTS backlog_items (
		  id               TEXT PRIMARY KEY,
		  created_at       INTEGER NOT NULL,
		  raw_text         TEXT NOT NULL,
		  status           TEXT NOT NULL,
		  clarify_attempts INTEGER NOT NULL DEFAULT 0,
		  processed_at     INTEGER,
		  capture_id       TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_backlog_items_status
		ON backlog_items(status, created_at);

		CREATE TABLE IF NOT EXISTS provider_auth (
		  provider        TEXT PRIMARY KEY,
		  token           TEXT NOT NULL,
		  perms           TEXT,
		  username        TEXT,
		  user_id         TEXT,
		  valid           INTEGER NOT NULL DEFAULT 0,
		  last_checked_at INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
