// Package sqlite persists notification history in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notifications (
	id             INTEGER PRIMARY KEY,
	app_name       TEXT    NOT NULL,
	app_icon       TEXT    NOT NULL DEFAULT '',
	summary        TEXT    NOT NULL DEFAULT '',
	body           TEXT    NOT NULL DEFAULT '',
	actions        TEXT    NOT NULL DEFAULT '[]',
	urgency        INTEGER NOT NULL DEFAULT 1,
	timestamp      TEXT    NOT NULL,
	expire_timeout INTEGER NOT NULL DEFAULT -1,
	desktop_entry  TEXT    NOT NULL DEFAULT '',
	image_path     TEXT    NOT NULL DEFAULT '',
	dismissed      INTEGER NOT NULL DEFAULT 0,
	silent         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_notifications_timestamp ON notifications(timestamp);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// timestampLayout is fixed width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// History is the notification history database.
type History struct {
	db     *sql.DB
	writes atomic.Uint64
}

// Open opens or creates the history database at dbPath.
func Open(dbPath string) (*History, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("sqlite storage: db path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite storage: create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite storage: open db: %w", err)
	}
	// One connection keeps transactions and pragmas on the same handle.
	db.SetMaxOpenConns(1)

	h := &History{db: db}
	if err := h.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return h, nil
}

// Close closes the underlying SQLite connection.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

func (h *History) init() error {
	if _, err := h.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("sqlite storage: set busy timeout: %w", err)
	}
	if _, err := h.db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return fmt.Errorf("sqlite storage: set journal mode: %w", err)
	}

	if _, err := h.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("sqlite storage: create schema: %w", err)
	}

	return nil
}

// Writes returns the number of write statements executed since Open.
func (h *History) Writes() uint64 {
	return h.writes.Load()
}

// tx runs fn in a transaction and counts the statements it executes.
func (h *History) tx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return writeErr(op, fmt.Errorf("begin transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return writeErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return writeErr(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (h *History) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	h.writes.Add(1)
	return tx.ExecContext(ctx, query, args...)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}
