package sync

import (
	"context"
	"errors"

	"github.com/tilesticker/sticky/internal/schema"
)

var (
	// ErrCloudInactive is returned by remote-facing operations while cloud
	// mode is off. Composite treats it as "skip the remote", not a failure.
	ErrCloudInactive = errors.New("cloud mode is not active")

	// ErrNoRemote is returned by InitializeCloudFirst when no remote
	// client is configured.
	ErrNoRemote = errors.New("no remote configured")

	// ErrUserMismatch is returned when an operation names a user other
	// than the one cloud mode is active for.
	ErrUserMismatch = errors.New("user does not match active cloud session")
)

// Write is one item write. A nil Patch means the item is new; otherwise
// Patch holds the fields that changed and Item the merged result.
type Write struct {
	Item  schema.Item
	Patch *schema.Patch
}

// Backend is a place items persist to.
//
// Put returns the canonical stored item, which may differ from the input
// (for example a server-adjusted updatedAt). Delete of a missing id is not
// an error for local backends.
type Backend interface {
	// Put stores a created or updated item.
	//
	// Example:
	//   item, err := backend.Put(ctx, sync.Write{Item: item})
	Put(ctx context.Context, w Write) (schema.Item, error)

	// Delete removes an item (soft delete on the remote side).
	Delete(ctx context.Context, id string) error

	// List returns every live item.
	List(ctx context.Context) ([]schema.Item, error)
}

// Local is the subset of the local cache the sync layer needs. It is
// satisfied by *db.DB.
type Local interface {
	Put(ctx context.Context, item schema.Item) error
	Delete(ctx context.Context, id string) error
	All(ctx context.Context) ([]schema.Item, error)
	Reconcile(ctx context.Context, items []schema.Item) ([]string, error)
}

// RemoteStatus reports what happened on the remote side of a write.
type RemoteStatus int

const (
	// RemoteSkipped means cloud mode was off; only the local write ran.
	RemoteSkipped RemoteStatus = iota
	// RemoteApplied means the remote accepted the write.
	RemoteApplied
	// RemoteFailed means the remote write failed and the local write ran
	// alone. The error is in Result.RemoteErr.
	RemoteFailed
)

func (s RemoteStatus) String() string {
	switch s {
	case RemoteSkipped:
		return "skipped"
	case RemoteApplied:
		return "applied"
	case RemoteFailed:
		return "failed"
	}
	return "unknown"
}

// Result describes a Composite write.
type Result struct {
	// Item is what was stored locally: the remote's canonical item when
	// the remote write succeeded, the caller's item otherwise.
	Item      schema.Item
	Remote    RemoteStatus
	RemoteErr error
}
