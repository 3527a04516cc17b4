package cloud

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/tilesticker/sticky/internal/remote"
	"github.com/tilesticker/sticky/internal/schema"
)

const rowsTable = "remote_items"

var rowColumns = []string{
	"id", "user_id", "type", "title", "content", "done", "href",
	"list", "date", "tags", "color", "created_at", "updated_at", "deleted_at",
}

const rowsSchema = `
CREATE TABLE IF NOT EXISTS remote_items (
	id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT,
	done INTEGER,
	href TEXT,
	list TEXT,
	date TEXT,
	tags TEXT NOT NULL DEFAULT '[]',
	color TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted_at INTEGER,
	PRIMARY KEY (user_id, id)
);

CREATE INDEX IF NOT EXISTS idx_remote_items_user_updated
	ON remote_items(user_id, updated_at DESC);
`

// SQLBackend stores rows in SQLite (ncruces/go-sqlite3) or, for libsql://
// DSNs, in a libSQL/Turso database.
type SQLBackend struct {
	db     *sql.DB
	sq     squirrel.StatementBuilderType
	driver string
}

var _ Backend = (*SQLBackend)(nil)

// OpenSQL opens the database named by dsn and creates the table.
//
// DSN forms:
//
//	/path/to/cloud.db                 local SQLite file
//	file:/path/to/cloud.db            same
//	libsql://db-org.turso.io?authToken=...   remote libSQL (cgo builds only)
func OpenSQL(ctx context.Context, dsn string) (*SQLBackend, error) {
	var (
		conn   *sql.DB
		driver string
		err    error
	)
	switch {
	case strings.HasPrefix(dsn, "libsql://"), strings.HasPrefix(dsn, "https://"):
		driver = "libsql"
		conn, err = openLibSQL(dsn)
	default:
		driver = "sqlite3"
		conn, err = openSQLite(dsn)
	}
	if err != nil {
		return nil, err
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	if _, err := conn.ExecContext(ctx, rowsSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLBackend{
		db:     conn,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		driver: driver,
	}, nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return conn, nil
}

// Driver returns the database/sql driver in use.
func (b *SQLBackend) Driver() string {
	return b.driver
}

func (b *SQLBackend) Get(ctx context.Context, userID, id string) (schema.Row, error) {
	query, args, err := b.sq.Select(rowColumns...).From(rowsTable).
		Where(squirrel.Eq{"user_id": userID, "id": id}).ToSql()
	if err != nil {
		return schema.Row{}, fmt.Errorf("failed to build query: %w", err)
	}

	row, err := scanRow(b.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Row{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return schema.Row{}, fmt.Errorf("failed to get row %s: %w", id, err)
	}
	return row, nil
}

func (b *SQLBackend) Insert(ctx context.Context, row schema.Row) error {
	values, err := rowValues(row)
	if err != nil {
		return err
	}
	query, args, err := b.sq.Insert(rowsTable).Columns(rowColumns...).Values(values...).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrConflict, row.ID)
		}
		return fmt.Errorf("failed to insert row %s: %w", row.ID, err)
	}
	return nil
}

func (b *SQLBackend) Put(ctx context.Context, row schema.Row) error {
	values, err := rowValues(row)
	if err != nil {
		return err
	}

	sets := make([]string, 0, len(rowColumns))
	for _, col := range rowColumns {
		if col == "id" || col == "user_id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	query, args, err := b.sq.Insert(rowsTable).Columns(rowColumns...).Values(values...).
		Suffix("ON CONFLICT(user_id, id) DO UPDATE SET " + strings.Join(sets, ", ")).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert row %s: %w", row.ID, err)
	}
	return nil
}

func (b *SQLBackend) List(ctx context.Context, userID string, includeDeleted bool) ([]schema.Row, error) {
	sel := b.sq.Select(rowColumns...).From(rowsTable).
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("updated_at DESC", "id")
	if !includeDeleted {
		sel = sel.Where(squirrel.Eq{"deleted_at": nil})
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()

	out := []schema.Row{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

func (b *SQLBackend) Stats(ctx context.Context, userID string) (remote.Stats, error) {
	query, args, err := b.sq.
		Select("COUNT(*)", "COALESCE(SUM(CASE WHEN deleted_at IS NULL THEN 1 ELSE 0 END), 0)").
		From(rowsTable).Where(squirrel.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return remote.Stats{}, fmt.Errorf("failed to build query: %w", err)
	}

	var stats remote.Stats
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.Active); err != nil {
		return remote.Stats{}, fmt.Errorf("failed to count rows: %w", err)
	}
	stats.Deleted = stats.Total - stats.Active
	return stats, nil
}

func (b *SQLBackend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func rowValues(row schema.Row) ([]any, error) {
	list, err := nullJSON(row.List, row.List == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal list for %s: %w", row.ID, err)
	}
	date, err := nullJSON(row.Date, row.Date == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal date for %s: %w", row.ID, err)
	}
	color, err := nullJSON(row.Color, row.Color == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal color for %s: %w", row.ID, err)
	}
	tags := row.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags for %s: %w", row.ID, err)
	}

	var content, href sql.NullString
	if row.Content != nil {
		content = sql.NullString{String: *row.Content, Valid: true}
	}
	if row.Href != nil {
		href = sql.NullString{String: *row.Href, Valid: true}
	}
	var done sql.NullBool
	if row.Done != nil {
		done = sql.NullBool{Bool: *row.Done, Valid: true}
	}
	var deleted sql.NullInt64
	if row.DeletedAt != nil {
		deleted = sql.NullInt64{Int64: row.DeletedAt.UnixMilli(), Valid: true}
	}

	return []any{
		row.ID, row.UserID, string(row.Type), row.Title, content, done, href,
		list, date, string(tagsJSON), color,
		row.CreatedAt.UnixMilli(), row.UpdatedAt.UnixMilli(), deleted,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(s rowScanner) (schema.Row, error) {
	var (
		row               schema.Row
		typ               string
		content, href     sql.NullString
		done              sql.NullBool
		list, date, color sql.NullString
		tags              string
		created, updated  int64
		deleted           sql.NullInt64
	)
	if err := s.Scan(&row.ID, &row.UserID, &typ, &row.Title, &content, &done, &href,
		&list, &date, &tags, &color, &created, &updated, &deleted); err != nil {
		return schema.Row{}, err
	}

	row.Type = schema.Type(typ)
	if content.Valid {
		row.Content = schema.Ptr(content.String)
	}
	if href.Valid {
		row.Href = schema.Ptr(href.String)
	}
	if done.Valid {
		row.Done = schema.Ptr(done.Bool)
	}
	if list.Valid {
		if err := json.Unmarshal([]byte(list.String), &row.List); err != nil {
			return schema.Row{}, fmt.Errorf("failed to parse list: %w", err)
		}
	}
	if date.Valid {
		row.Date = &schema.DateInfo{}
		if err := json.Unmarshal([]byte(date.String), row.Date); err != nil {
			return schema.Row{}, fmt.Errorf("failed to parse date: %w", err)
		}
	}
	if color.Valid {
		row.Color = &schema.Color{}
		if err := json.Unmarshal([]byte(color.String), row.Color); err != nil {
			return schema.Row{}, fmt.Errorf("failed to parse color: %w", err)
		}
	}
	row.Tags = []string{}
	if err := json.Unmarshal([]byte(tags), &row.Tags); err != nil {
		return schema.Row{}, fmt.Errorf("failed to parse tags: %w", err)
	}
	row.CreatedAt = time.UnixMilli(created).UTC()
	row.UpdatedAt = time.UnixMilli(updated).UTC()
	if deleted.Valid {
		t := time.UnixMilli(deleted.Int64).UTC()
		row.DeletedAt = &t
	}
	return row, nil
}

func nullJSON(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
