package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tilesticker/sticky/internal/schema"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const itemColumns = `id, type, title, content, done, href, list, date, tags, color, created_at, updated_at`

// orderColumns maps the fields OrderedBy accepts to their columns.
var orderColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"title":     "title",
}

// Put inserts or replaces item by id.
func (db *DB) Put(ctx context.Context, item schema.Item) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := putItem(ctx, tx, item); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit item %s: %w", item.ID, err)
	}
	return nil
}

// PutAll upserts every item in one transaction. Either all items are
// written or none are.
func (db *DB) PutAll(ctx context.Context, items []schema.Item) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, item := range items {
		if err := putItem(ctx, tx, item); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %d items: %w", len(items), err)
	}
	return nil
}

func putItem(ctx context.Context, q dbtx, item schema.Item) error {
	listJSON, err := marshalNullable(item.List, item.List == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal list for %s: %w", item.ID, err)
	}
	dateJSON, err := marshalNullable(item.Date, item.Date == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal date for %s: %w", item.ID, err)
	}
	colorJSON, err := marshalNullable(item.Color, item.Color == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal color for %s: %w", item.ID, err)
	}
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags for %s: %w", item.ID, err)
	}

	var done sql.NullBool
	if item.Done != nil {
		done = sql.NullBool{Bool: *item.Done, Valid: true}
	}

	query := `
	INSERT INTO items (` + itemColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		title = excluded.title,
		content = excluded.content,
		done = excluded.done,
		href = excluded.href,
		list = excluded.list,
		date = excluded.date,
		tags = excluded.tags,
		color = excluded.color,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	`

	_, err = q.ExecContext(ctx, query,
		item.ID,
		string(item.Type),
		item.Title,
		ptrToNullString(item.Content),
		done,
		ptrToNullString(item.Href),
		listJSON,
		dateJSON,
		string(tagsJSON),
		colorJSON,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM item_tags WHERE item_id = ?`, item.ID); err != nil {
		return fmt.Errorf("failed to clear tags for %s: %w", item.ID, err)
	}
	for _, tag := range tags {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO item_tags (item_id, tag) VALUES (?, ?)`, item.ID, tag); err != nil {
			return fmt.Errorf("failed to index tag %q for %s: %w", tag, item.ID, err)
		}
	}

	return nil
}

// Delete removes an item. Deleting a missing id is not an error.
func (db *DB) Delete(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return nil
}

// Clear removes every item.
func (db *DB) Clear(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}
	return nil
}

// Get returns the item with the given id, or ErrNotFound.
func (db *DB) Get(ctx context.Context, id string) (schema.Item, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return schema.Item{}, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return item, nil
}

// All returns every item in insertion order.
func (db *DB) All(ctx context.Context) ([]schema.Item, error) {
	return queryItems(ctx, db.conn, `SELECT `+itemColumns+` FROM items ORDER BY rowid`)
}

// OrderedBy returns every item sorted by field ("createdAt", "updatedAt" or
// "title").
func (db *DB) OrderedBy(ctx context.Context, field string, desc bool) ([]schema.Item, error) {
	col, ok := orderColumns[field]
	if !ok {
		return nil, fmt.Errorf("cannot order items by %q", field)
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM items ORDER BY %s %s, rowid %s`, itemColumns, col, dir, dir)
	return queryItems(ctx, db.conn, query)
}

// ByTag returns items carrying exactly tag, most recently updated first.
func (db *DB) ByTag(ctx context.Context, tag string) ([]schema.Item, error) {
	query := `
	SELECT ` + prefixed("i", itemColumns) + `
	FROM items i
	JOIN item_tags t ON t.item_id = i.id
	WHERE t.tag = ?
	ORDER BY i.updated_at DESC
	`
	return queryItems(ctx, db.conn, query, tag)
}

// Count returns the number of items.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// Reconcile makes the table match items exactly: every item is upserted and
// every row whose id is not in items is deleted. It runs in one transaction
// and returns the ids it deleted.
func (db *DB) Reconcile(ctx context.Context, items []schema.Item) ([]string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	keep := make(map[string]bool, len(items))
	for _, item := range items {
		keep[item.ID] = true
		if err := putItem(ctx, tx, item); err != nil {
			return nil, err
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM items`)
	if err != nil {
		return nil, fmt.Errorf("failed to list item ids: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("failed to list item ids: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("failed to list item ids: %w", err)
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to delete stale item %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reconcile: %w", err)
	}
	return stale, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (schema.Item, error) {
	var (
		item              schema.Item
		typ               string
		content, href     sql.NullString
		done              sql.NullBool
		list, date, color sql.NullString
		tags              string
	)
	if err := s.Scan(&item.ID, &typ, &item.Title, &content, &done, &href,
		&list, &date, &tags, &color, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return schema.Item{}, err
	}

	item.Type = schema.Type(typ)
	if content.Valid {
		item.Content = schema.Ptr(content.String)
	}
	if href.Valid {
		item.Href = schema.Ptr(href.String)
	}
	if done.Valid {
		item.Done = schema.Ptr(done.Bool)
	}
	if list.Valid {
		if err := json.Unmarshal([]byte(list.String), &item.List); err != nil {
			return schema.Item{}, fmt.Errorf("failed to parse list for %s: %w", item.ID, err)
		}
	}
	if date.Valid {
		item.Date = &schema.DateInfo{}
		if err := json.Unmarshal([]byte(date.String), item.Date); err != nil {
			return schema.Item{}, fmt.Errorf("failed to parse date for %s: %w", item.ID, err)
		}
	}
	if color.Valid {
		item.Color = &schema.Color{}
		if err := json.Unmarshal([]byte(color.String), item.Color); err != nil {
			return schema.Item{}, fmt.Errorf("failed to parse color for %s: %w", item.ID, err)
		}
	}
	item.Tags = []string{}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
			return schema.Item{}, fmt.Errorf("failed to parse tags for %s: %w", item.ID, err)
		}
	}
	return item, nil
}

func queryItems(ctx context.Context, q dbtx, query string, args ...any) ([]schema.Item, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []schema.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

func marshalNullable(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func ptrToNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
