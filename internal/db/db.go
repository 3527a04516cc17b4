// Package db is the local item cache: an embedded SQLite database
// (ncruces/go-sqlite3, WAL mode) holding one row per item.
//
// The store performs no validation. Callers validate and sanitize before
// writing. Every write is durable when the call returns; PutAll and
// Reconcile are the only multi-item operations and each runs in a single
// transaction.
//
// Schema:
//   - items: one row per item, list/date/tags/color stored as JSON
//   - item_tags: one row per (item, tag) for tag lookups
//   - indexes on title, created_at, updated_at and content
//
// The schema version lives in PRAGMA user_version and only moves forward.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned by Get when no item has the requested id.
var ErrNotFound = errors.New("item not found")

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and configures WAL,
// a 5 second busy timeout and foreign keys on every pooled connection.
//
// The caller must call InitSchema before use and Close when done.
//
// Example:
//
//	store, err := db.Open(filepath.Join(home, ".sticky", "sticky.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so that each pooled connection gets them.
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(wal)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the pool. Calling Close twice is safe.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}
