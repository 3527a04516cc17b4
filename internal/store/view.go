package store

import (
	"fmt"

	"github.com/tilesticker/sticky/internal/schema"
	"github.com/tilesticker/sticky/internal/search"
)

func (s *Store) SetSelected(id string) {
	s.commit(func(st *State) { st.SelectedID = id })
}

func (s *Store) SetSearchOpen(open bool) {
	s.commit(func(st *State) { st.SearchOpen = open })
}

// SetQuery sets the search query and recomputes the filtered list.
func (s *Store) SetQuery(q string) {
	s.commit(func(st *State) {
		st.Query = q
		applyFilter(st)
	})
}

// SetSort sets the sort key and recomputes the filtered list.
func (s *Store) SetSort(key search.SortKey) error {
	switch key {
	case search.SortCreated, search.SortUpdated, search.SortType:
	default:
		return fmt.Errorf("unknown sort key %q", key)
	}
	s.commit(func(st *State) {
		st.Sort = key
		applyFilter(st)
	})
	return nil
}

// SetFilterType narrows the filtered list to one type. An empty type clears
// the filter.
func (s *Store) SetFilterType(t schema.Type) error {
	if t != "" && !t.Valid() {
		return fmt.Errorf("unknown item type %q", t)
	}
	s.commit(func(st *State) {
		st.FilterType = t
		applyFilter(st)
	})
	return nil
}
