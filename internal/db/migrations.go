package db

import (
	"context"
	"fmt"
)

// migration moves the schema from version-1 to version.
type migration struct {
	version int
	name    string
	sql     string
}

// migrations are applied in order. Never edit a released entry; append a
// new one instead so existing databases upgrade in place.
var migrations = []migration{
	{
		version: 1,
		name:    "items table",
		sql: `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT,
		done INTEGER,          -- NULL unless the item carries a done flag
		href TEXT,
		list TEXT,             -- JSON array
		date TEXT,             -- JSON {selectedDate, note}
		tags TEXT NOT NULL DEFAULT '[]',  -- JSON array
		color TEXT,            -- JSON {base, shadow, highlight}
		created_at INTEGER NOT NULL,      -- epoch ms
		updated_at INTEGER NOT NULL       -- epoch ms
	);

	CREATE INDEX IF NOT EXISTS idx_items_title ON items(title);
	CREATE INDEX IF NOT EXISTS idx_items_updated ON items(updated_at);
	CREATE INDEX IF NOT EXISTS idx_items_content ON items(content);
	`,
	},
	{
		version: 2,
		name:    "created_at index and tag lookup table",
		sql: `
	CREATE INDEX IF NOT EXISTS idx_items_created ON items(created_at);

	CREATE TABLE IF NOT EXISTS item_tags (
		item_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		PRIMARY KEY (item_id, tag),
		FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_item_tags_tag ON item_tags(tag);

	-- Backfill from rows written by version 1
	INSERT OR IGNORE INTO item_tags (item_id, tag)
	SELECT items.id, json_each.value
	FROM items, json_each(items.tags);
	`,
	},
}

// LatestVersion is the schema version InitSchema upgrades to.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

// InitSchema brings the schema up to LatestVersion. Each pending migration
// runs in its own transaction together with the user_version bump, so a
// failure leaves the database at the last completed version with every row
// intact. Safe to call on every start.
func (db *DB) InitSchema(ctx context.Context) error {
	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return err
		}
	}

	return nil
}

func (db *DB) applyMigration(ctx context.Context, m migration) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("failed to apply migration %d (%s): %w", m.version, m.name, err)
	}

	// PRAGMA arguments cannot be bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("failed to record schema version %d: %w", m.version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
	}
	return nil
}

// SchemaVersion returns the schema version recorded in the database.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}
