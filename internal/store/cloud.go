package store

import (
	"context"
	"errors"

	cloudsync "github.com/tilesticker/sticky/internal/sync"
)

// EnableCloud runs the first-run migration for userID, switches to cloud
// mode and performs one pull. A migration failure leaves the store local-only.
func (s *Store) EnableCloud(ctx context.Context, userID string) (cloudsync.Migration, error) {
	m, err := s.engine.InitializeCloudFirst(ctx, userID)
	if err != nil {
		return m, err
	}

	s.commit(func(st *State) {
		st.CloudFirst = true
		st.CurrentUserID = userID
	})

	return m, s.SyncFromCloud(ctx, userID)
}

// StartRealtimeSync starts background pulls (interval and change stream).
func (s *Store) StartRealtimeSync(ctx context.Context) error {
	return s.engine.Start(ctx)
}

// DisableCloud stops background sync and returns to local-only mode.
func (s *Store) DisableCloud() {
	s.engine.Deactivate()
	s.commit(func(st *State) {
		st.CloudFirst = false
		st.CloudHydrated = false
		st.CurrentUserID = ""
	})
}

// SyncFromCloud pulls the remote active set into the local cache and
// reloads. A failure leaves items as they were.
func (s *Store) SyncFromCloud(ctx context.Context, userID string) error {
	s.commit(func(st *State) { st.Syncing = true })
	_, err := s.engine.SyncFromCloud(ctx, userID)
	s.commit(func(st *State) { st.Syncing = false })

	if errors.Is(err, cloudsync.ErrCloudInactive) {
		s.logger.Println("Cloud mode not enabled, skipping sync")
		return nil
	}
	return err
}
