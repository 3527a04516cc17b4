package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/tilesticker/sticky/internal/schema"
)

// LocalBackend adapts a Local cache to Backend.
type LocalBackend struct {
	DB Local
}

var _ Backend = LocalBackend{}

func (b LocalBackend) Put(ctx context.Context, w Write) (schema.Item, error) {
	if err := b.DB.Put(ctx, w.Item); err != nil {
		return schema.Item{}, err
	}
	return w.Item, nil
}

func (b LocalBackend) Delete(ctx context.Context, id string) error {
	return b.DB.Delete(ctx, id)
}

func (b LocalBackend) List(ctx context.Context) ([]schema.Item, error) {
	return b.DB.All(ctx)
}

// Composite writes to Local always and to Remote on a best-effort basis.
//
//	remote result        local write   outcome
//	ErrCloudInactive     caller item   RemoteSkipped, silent
//	success              remote item   RemoteApplied
//	any other error      caller item   RemoteFailed, WARNING logged
//
// A local failure is returned as the error; it is the only fatal case.
type Composite struct {
	Local  Backend
	Remote Backend // nil behaves like an inactive remote

	// Logger for fallback warnings (default: stderr logger)
	Logger *log.Logger
}

// NewComposite builds a Composite over a local cache and a remote backend.
func NewComposite(local Local, remote Backend, logger *log.Logger) *Composite {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Composite{Local: LocalBackend{DB: local}, Remote: remote, Logger: logger}
}

func (c *Composite) logger() *log.Logger {
	if c.Logger == nil {
		return log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return c.Logger
}

// Put applies the write remotely (if possible) and then locally.
func (c *Composite) Put(ctx context.Context, w Write) (Result, error) {
	res := Result{Item: w.Item, Remote: RemoteSkipped}

	if c.Remote != nil {
		canonical, err := c.Remote.Put(ctx, w)
		switch {
		case err == nil:
			res.Item = canonical
			res.Remote = RemoteApplied
		case errors.Is(err, ErrCloudInactive):
		default:
			res.Remote = RemoteFailed
			res.RemoteErr = err
			c.logger().Printf("WARNING: remote write of %s failed, saved locally only: %v", w.Item.ID, err)
		}
	}

	if _, err := c.Local.Put(ctx, Write{Item: res.Item, Patch: w.Patch}); err != nil {
		return res, fmt.Errorf("failed to save item %s locally: %w", res.Item.ID, err)
	}
	return res, nil
}

// Delete soft-deletes remotely (if possible) and hard-deletes locally.
func (c *Composite) Delete(ctx context.Context, id string) (Result, error) {
	res := Result{Item: schema.Item{ID: id}, Remote: RemoteSkipped}

	if c.Remote != nil {
		err := c.Remote.Delete(ctx, id)
		switch {
		case err == nil:
			res.Remote = RemoteApplied
		case errors.Is(err, ErrCloudInactive):
		default:
			res.Remote = RemoteFailed
			res.RemoteErr = err
			c.logger().Printf("WARNING: remote delete of %s failed, deleted locally only: %v", id, err)
		}
	}

	if err := c.Local.Delete(ctx, id); err != nil {
		return res, fmt.Errorf("failed to delete item %s locally: %w", id, err)
	}
	return res, nil
}

// List reads the local cache, which mirrors the remote in cloud mode.
func (c *Composite) List(ctx context.Context) ([]schema.Item, error) {
	return c.Local.List(ctx)
}
