// Package cloud is the hosted side of sticky sync: a small REST +
// websocket server that owns the authoritative item rows for many users.
//
// Rows are scoped by user id and never purged; DELETE sets deleted_at.
// Storage is pluggable (SQLite/libSQL through squirrel, or Redis) and change
// notifications fan out through a Notifier (in-process Hub, or Redis
// pub/sub when several servers share one Redis).
package cloud

import (
	"context"
	"errors"

	"github.com/tilesticker/sticky/internal/remote"
	"github.com/tilesticker/sticky/internal/schema"
)

var (
	// ErrNotFound is returned when the user has no row with that id.
	ErrNotFound = errors.New("row not found")

	// ErrConflict is returned by Insert when the id is taken.
	ErrConflict = errors.New("row already exists")
)

// Backend stores rows. Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns one row, deleted or not.
	Get(ctx context.Context, userID, id string) (schema.Row, error)

	// Insert stores a new row or returns ErrConflict.
	Insert(ctx context.Context, row schema.Row) error

	// Put stores row, replacing any existing row with the same id.
	Put(ctx context.Context, row schema.Row) error

	// List returns the user's rows by updated_at descending. Soft-deleted
	// rows are included only when includeDeleted is set.
	List(ctx context.Context, userID string, includeDeleted bool) ([]schema.Row, error)

	// Stats counts the user's rows.
	Stats(ctx context.Context, userID string) (remote.Stats, error)

	Close() error
}
