package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// PersistenceError reports a failed store operation. It is retryable at the
// fire level with the same backoff policy as upstream fetch failures.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// Store handles all database operations.
type Store struct {
	db *sql.DB
}

// Open creates a Store with a SQLite backend at dbPath, creating the schema
// if needed.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, wrap("mkdir", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, wrap("open", err)
	}
	// modernc sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY under concurrent triggers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		handle TEXT PRIMARY KEY,
		display_name TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sync_cursors (
		handle TEXT PRIMARY KEY REFERENCES accounts(handle),
		last_item_id TEXT,
		last_fetch_time DATETIME,
		last_digest_id INTEGER REFERENCES digests(id),
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS digests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		generated_at DATETIME NOT NULL,
		body TEXT NOT NULL,
		item_ids TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at DATETIME NOT NULL,
		account TEXT,
		trigger_kind TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		items_fetched INTEGER NOT NULL DEFAULT 0,
		digest_produced BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS scheduler_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_digests_generated_at ON digests(generated_at);
	CREATE INDEX IF NOT EXISTS idx_digests_item_ids ON digests(item_ids);
	CREATE INDEX IF NOT EXISTS idx_run_records_at ON run_records(at);
	`

	_, err := s.db.Exec(schema)
	return wrap("migrate", err)
}

// normalizeHandle matches the normalization applied on registration: trim,
// strip a leading '@', lowercase. All lookups go through it so handles are
// case-insensitive.
func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// scanTime tolerates both DATETIME text and RFC 3339 strings coming back
// from the driver.
func scanTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s.String); err == nil {
			return t
		}
	}
	return time.Time{}
}
