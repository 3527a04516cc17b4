// Package remote is the client side of the hosted item backend.
//
// Every operation is scoped to one user id. Rows are never purged: a delete
// sets deleted_at, and ListActive hides such rows. Change notifications are
// a trigger only; receivers re-pull with ListActive.
//
// Implementations return errors rather than panicking. The sync engine
// decides whether an error falls back to local-only operation.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/tilesticker/sticky/internal/schema"
)

// APIVersion is the protocol version spoken by this client and served by
// the cloud package. Clients accept any server with the same major version.
const APIVersion = "v1.0.0"

var (
	// ErrNotFound is returned when the row does not exist or belongs to
	// another user.
	ErrNotFound = errors.New("remote item not found")

	// ErrConflict is returned by Insert when the id already exists.
	ErrConflict = errors.New("remote item already exists")

	// ErrUnauthorized is returned when the token is missing, unknown, or
	// not allowed to act for the requested user.
	ErrUnauthorized = errors.New("remote request unauthorized")

	// ErrIncompatible is returned by Ping when the server speaks a
	// different major API version.
	ErrIncompatible = errors.New("incompatible remote API version")
)

// Client is the remote store contract.
type Client interface {
	// IsEmpty reports whether the user owns zero rows, deleted ones included.
	IsEmpty(ctx context.Context, userID string) (bool, error)

	// Insert creates a row and returns the server's canonical item.
	Insert(ctx context.Context, userID string, item schema.Item) (schema.Item, error)

	// Upsert writes the item keeping its id and timestamps. Used by the
	// first-run migration and by imports.
	Upsert(ctx context.Context, userID string, item schema.Item) (schema.Item, error)

	// Update applies patch to one of the user's rows and returns the
	// canonical item.
	Update(ctx context.Context, userID, id string, patch schema.Patch) (schema.Item, error)

	// SoftDelete marks the row deleted and bumps updated_at.
	SoftDelete(ctx context.Context, userID, id string) error

	// ListActive returns the user's rows without deleted_at, most recently
	// updated first.
	ListActive(ctx context.Context, userID string) ([]schema.Item, error)

	// Subscribe calls onChange whenever one of the user's rows changes,
	// until the returned function is called or ctx ends.
	Subscribe(ctx context.Context, userID string, onChange func()) (func(), error)

	// Ping checks reachability and API compatibility.
	Ping(ctx context.Context) error
}

// ChangeAction names what happened to a row.
type ChangeAction string

const (
	ChangeInsert ChangeAction = "insert"
	ChangeUpdate ChangeAction = "update"
	ChangeDelete ChangeAction = "delete"
)

// Change is one message on the change stream.
type Change struct {
	UserID    string       `json:"user_id"`
	ItemID    string       `json:"item_id"`
	Action    ChangeAction `json:"action"`
	Timestamp time.Time    `json:"timestamp"`
}

// Stats summarizes a user's rows.
type Stats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Deleted int `json:"deleted"`
}

// Health is the body of GET /health.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Clients int    `json:"clients"`
}

// ItemList is the body of GET /v1/users/{user}/items.
type ItemList struct {
	Items []schema.Row `json:"items"`
}

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
}
