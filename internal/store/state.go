// Package store is the reactive item store behind the board.
//
// Store holds the working set of items plus the view settings (query, sort,
// type filter) and the derived Filtered id list. Every public operation is
// serialized; the filtered list is recomputed before an operation returns
// whenever items or view settings change. Observers registered with
// Subscribe receive an immutable State snapshot after each change.
//
// Persistence goes through sync.Composite: local always, remote when cloud
// mode is active, with local fallback on remote failure.
package store

import (
	"time"

	"github.com/tilesticker/sticky/internal/schema"
	"github.com/tilesticker/sticky/internal/search"
)

// State is a snapshot of the store. Slices in a snapshot are owned by the
// receiver.
type State struct {
	Items      []schema.Item
	Filtered   []string
	SelectedID string
	SearchOpen bool
	Query      string
	Sort       search.SortKey
	// FilterType is empty when no type filter is set.
	FilterType schema.Type

	Loading       bool
	Syncing       bool
	LastSyncTime  time.Time
	CloudHydrated bool
	CloudFirst    bool
	CurrentUserID string
}

func (s State) clone() State {
	out := s
	out.Items = make([]schema.Item, len(s.Items))
	for i, item := range s.Items {
		out.Items[i] = item.Clone()
	}
	out.Filtered = append([]string(nil), s.Filtered...)
	return out
}

// Visible returns the filtered items in display order.
func (s State) Visible() []schema.Item {
	byID := make(map[string]schema.Item, len(s.Items))
	for _, item := range s.Items {
		byID[item.ID] = item
	}
	out := make([]schema.Item, 0, len(s.Filtered))
	for _, id := range s.Filtered {
		if item, ok := byID[id]; ok {
			out = append(out, item)
		}
	}
	return out
}

// Find returns the item with id.
func (s State) Find(id string) (schema.Item, bool) {
	for _, item := range s.Items {
		if item.ID == id {
			return item, true
		}
	}
	return schema.Item{}, false
}
