package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/tilesticker/sticky/internal/schema"
	"github.com/tilesticker/sticky/internal/search"
	cloudsync "github.com/tilesticker/sticky/internal/sync"
)

// Load replaces the working set from the local cache, newest first by the
// active timestamp field, and recomputes the filtered list.
func (s *Store) Load(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) error {
	s.mu.RLock()
	field := "createdAt"
	if s.state.Sort == search.SortUpdated {
		field = "updatedAt"
	}
	s.mu.RUnlock()

	items, err := s.db.OrderedBy(ctx, field, true)
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}

	s.commit(func(st *State) {
		st.Items = items
		st.Loading = false
		applyFilter(st)
	})
	return nil
}

// reloadAfterSync is the engine's reloader.
func (s *Store) reloadAfterSync(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.load(ctx); err != nil {
		return err
	}
	last := s.engine.LastSync()
	s.commit(func(st *State) {
		st.LastSyncTime = last
		st.CloudHydrated = true
	})
	return nil
}

// Add creates an item of type t with that type's defaults. In cloud mode the
// remote insert runs first and its canonical item is kept; on remote failure
// the item is saved locally only.
func (s *Store) Add(ctx context.Context, t schema.Type) (schema.Item, error) {
	if !t.Valid() {
		return schema.Item{}, fmt.Errorf("unknown item type %q", t)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	item := schema.New(t, s.newID(), s.nowMs())
	res, err := s.backend.Put(ctx, cloudsync.Write{Item: item})
	if err != nil {
		return schema.Item{}, err
	}

	s.commit(func(st *State) {
		st.Items = append([]schema.Item{res.Item}, st.Items...)
		applyFilter(st)
	})
	return res.Item.Clone(), nil
}

// Update merges the sanitized patch into the item, validates the result
// and persists it with a bumped updatedAt. A *schema.ValidationError leaves
// everything unchanged.
func (s *Store) Update(ctx context.Context, id string, patch schema.Patch) (schema.Item, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.update(ctx, id, patch)
}

func (s *Store) update(ctx context.Context, id string, patch schema.Patch) (schema.Item, error) {
	current, ok := s.Get(id)
	if !ok {
		return schema.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	clean := schema.SanitizePatch(patch)
	next := schema.Apply(current, clean)
	next.UpdatedAt = s.bumpMs(current.UpdatedAt)
	if err := schema.Validate(next); err != nil {
		return schema.Item{}, err
	}

	res, err := s.backend.Put(ctx, cloudsync.Write{Item: next, Patch: &clean})
	if err != nil {
		return schema.Item{}, err
	}

	s.commit(func(st *State) {
		for i := range st.Items {
			if st.Items[i].ID == id {
				st.Items[i] = res.Item
				break
			}
		}
		applyFilter(st)
	})
	return res.Item.Clone(), nil
}

// ToggleDone flips done on a todo item.
func (s *Store) ToggleDone(ctx context.Context, id string) (schema.Item, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	current, ok := s.Get(id)
	if !ok {
		return schema.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if current.Type != schema.TypeTodo {
		return schema.Item{}, fmt.Errorf("%w: %s is a %s", ErrNotToggleable, id, current.Type)
	}
	done := current.Done == nil || !*current.Done
	return s.update(ctx, id, schema.Patch{Done: &done})
}

// Remove drops the item from the working set immediately, then deletes it
// (remote soft delete in cloud mode, local hard delete always). When the
// remote delete fails, a background retry is scheduled and its failure is
// reported on Errors. userID overrides the active user for the remote call.
func (s *Store) Remove(ctx context.Context, id, userID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.commit(func(st *State) { removeFromState(st, id) })

	res, err := s.backend.Delete(cloudsync.WithUserID(ctx, userID), id)
	if err != nil {
		return err
	}
	if res.Remote == cloudsync.RemoteFailed {
		s.spawn(ctx, func(ctx context.Context) error {
			if err := s.engine.Remote().Delete(cloudsync.WithUserID(ctx, userID), id); err != nil {
				return fmt.Errorf("failed to retry remote delete of %s: %w", id, err)
			}
			return nil
		})
	}
	return nil
}

// SoftDelete deletes through the persistence layer first and drops the item
// from the working set only once that succeeded. No retry is scheduled.
func (s *Store) SoftDelete(ctx context.Context, id, userID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if _, err := s.backend.Delete(cloudsync.WithUserID(ctx, userID), id); err != nil {
		return err
	}
	s.commit(func(st *State) { removeFromState(st, id) })
	return nil
}

// RemoveAll deletes every item: one remote soft delete per item in cloud
// mode, then a single local clear.
func (s *Store) RemoveAll(ctx context.Context, userID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	items := s.State().Items
	s.commit(func(st *State) {
		st.Items = nil
		st.Filtered = []string{}
		st.SelectedID = ""
	})

	if s.engine.Active() {
		ctx := cloudsync.WithUserID(ctx, userID)
		for _, item := range items {
			if _, err := s.backend.Delete(ctx, item.ID); err != nil {
				return err
			}
		}
	}

	if err := s.db.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}
	return nil
}

func removeFromState(st *State, id string) {
	st.Items = slices.DeleteFunc(st.Items, func(item schema.Item) bool { return item.ID == id })
	if st.SelectedID == id {
		st.SelectedID = ""
	}
	applyFilter(st)
}
