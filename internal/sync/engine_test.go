package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilesticker/sticky/internal/db"
	"github.com/tilesticker/sticky/internal/remote"
	"github.com/tilesticker/sticky/internal/remote/remotetest"
	"github.com/tilesticker/sticky/internal/schema"
)

var quiet = log.New(io.Discard, "", 0)

func setupDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "sticky.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.InitSchema(context.Background()))
	return database
}

func setupEngine(t *testing.T, client remote.Client) (*Engine, *db.DB) {
	t.Helper()
	database := setupDB(t)
	engine, err := New(Config{DB: database, Client: client, Interval: 20 * time.Millisecond, Logger: quiet})
	require.NoError(t, err)
	t.Cleanup(engine.Deactivate)
	return engine, database
}

func memo(id, title string, at int64) schema.Item {
	item := schema.New(schema.TypeMemo, id, at)
	item.Title = title
	return item
}

func localIDs(t *testing.T, database *db.DB) []string {
	t.Helper()
	items, err := database.All(context.Background())
	require.NoError(t, err)
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func TestNew_RequiresDB(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestInitializeCloudFirst_MigratesIntoEmptyAccount(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	engine, database := setupEngine(t, fake)

	a := memo("a", "  padded  ", 1000)
	a.UpdatedAt = 1500
	b := memo("b", "Second", 2000)
	invalid := memo("bad", "", 3000)
	require.NoError(t, database.PutAll(ctx, []schema.Item{a, b, invalid}))

	m, err := engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, m.Ran)
	assert.Equal(t, 2, m.Uploaded)
	assert.Equal(t, []string{"bad"}, m.Skipped)
	assert.True(t, engine.Active())
	assert.Equal(t, "alice", engine.UserID())

	row, ok := fake.Row("alice", "a")
	require.True(t, ok)
	assert.Equal(t, "padded", row.Title, "uploaded items are sanitized")
	assert.Equal(t, int64(1000), row.CreatedAt.UnixMilli())
	assert.Equal(t, int64(1500), row.UpdatedAt.UnixMilli())

	_, ok = fake.Row("alice", "bad")
	assert.False(t, ok)
}

func TestInitializeCloudFirst_NonEmptyAccountSkipsMigration(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	fake.Seed("alice", memo("remote", "Remote", 1))
	fake.MarkDeleted("alice", "remote")

	engine, database := setupEngine(t, fake)
	require.NoError(t, database.Put(ctx, memo("local", "Local", 1)))

	m, err := engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, m.Ran, "soft-deleted rows make the account non-empty")
	assert.Equal(t, 0, fake.Calls(remotetest.OpUpsert))
	assert.True(t, engine.Active())
}

func TestInitializeCloudFirst_Idempotent(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	engine, _ := setupEngine(t, fake)

	_, err := engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)
	_, err = engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls(remotetest.OpIsEmpty))
}

func TestInitializeCloudFirst_Failures(t *testing.T) {
	ctx := context.Background()
	offline := errors.New("offline")

	t.Run("no remote", func(t *testing.T) {
		engine, _ := setupEngine(t, nil)
		_, err := engine.InitializeCloudFirst(ctx, "alice")
		assert.ErrorIs(t, err, ErrNoRemote)
		assert.False(t, engine.HasRemote())
	})

	t.Run("empty user", func(t *testing.T) {
		engine, _ := setupEngine(t, remotetest.NewFake())
		_, err := engine.InitializeCloudFirst(ctx, "")
		assert.Error(t, err)
	})

	t.Run("is empty fails", func(t *testing.T) {
		fake := remotetest.NewFake()
		fake.FailWith(remotetest.OpIsEmpty, offline)
		engine, _ := setupEngine(t, fake)
		_, err := engine.InitializeCloudFirst(ctx, "alice")
		assert.ErrorIs(t, err, offline)
		assert.False(t, engine.Active())
	})

	t.Run("upload fails", func(t *testing.T) {
		fake := remotetest.NewFake()
		fake.FailWith(remotetest.OpUpsert, offline)
		engine, database := setupEngine(t, fake)
		require.NoError(t, database.Put(ctx, memo("a", "A", 1)))
		_, err := engine.InitializeCloudFirst(ctx, "alice")
		assert.ErrorIs(t, err, offline)
		assert.False(t, engine.Active())
	})
}

func TestSyncFromCloud_RemoteWins(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	engine, database := setupEngine(t, fake)

	var reloads atomic.Int32
	engine.SetReloader(func(context.Context) error {
		reloads.Add(1)
		return nil
	})

	_, err := engine.SyncFromCloud(ctx, "alice")
	assert.ErrorIs(t, err, ErrCloudInactive)

	_, err = engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)

	// Local edit that never reached the remote.
	require.NoError(t, database.Put(ctx, memo("shared", "local title", 1)))
	require.NoError(t, database.Put(ctx, memo("local-only", "never pushed", 1)))
	fake.Seed("alice", memo("shared", "remote title", 1))
	fake.Seed("alice", memo("gone", "Gone", 1))
	fake.MarkDeleted("alice", "gone")

	res, err := engine.SyncFromCloud(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Items)
	assert.ElementsMatch(t, []string{"local-only"}, res.Removed)
	assert.Equal(t, int32(1), reloads.Load())
	assert.False(t, engine.LastSync().IsZero())

	got, err := database.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "remote title", got.Title)
	assert.Equal(t, []string{"shared"}, localIDs(t, database))
}

func TestSyncFromCloud_Idempotent(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	engine, database := setupEngine(t, fake)
	_, err := engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)

	fake.Seed("alice", memo("a", "A", 1))
	fake.Seed("alice", memo("b", "B", 2))

	_, err = engine.SyncFromCloud(ctx, "alice")
	require.NoError(t, err)
	first, err := database.All(ctx)
	require.NoError(t, err)

	res, err := engine.SyncFromCloud(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, res.Removed)
	second, err := database.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSyncFromCloud_SoftDeleteReconciles(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	engine, database := setupEngine(t, fake)
	_, err := engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)

	fake.Seed("alice", memo("a", "A", 1))
	_, err = engine.SyncFromCloud(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, localIDs(t, database))

	fake.MarkDeleted("alice", "a")
	_, err = engine.SyncFromCloud(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, localIDs(t, database))
}

func TestSyncFromCloud_FailureLeavesLocalUntouched(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	engine, database := setupEngine(t, fake)
	_, err := engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, database.Put(ctx, memo("a", "A", 1)))
	fake.FailWith(remotetest.OpListActive, errors.New("timeout"))

	_, err = engine.SyncFromCloud(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, localIDs(t, database))
	assert.True(t, engine.LastSync().IsZero())

	_, err = engine.SyncFromCloud(ctx, "bob")
	assert.ErrorIs(t, err, ErrUserMismatch)
}

func TestStart_PullsOnNotificationAndInterval(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	engine, database := setupEngine(t, fake)

	assert.ErrorIs(t, engine.Start(ctx), ErrCloudInactive)

	_, err := engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))
	require.NoError(t, engine.Start(ctx), "second start is a no-op")
	assert.Equal(t, 1, fake.Subscribers("alice"))

	fake.Seed("alice", memo("a", "A", 1))
	require.Eventually(t, func() bool {
		return len(localIDs(t, database)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	engine.Stop()
	assert.Equal(t, 0, fake.Subscribers("alice"))
	assert.True(t, engine.Active(), "stop keeps cloud mode")

	pulls := fake.Calls(remotetest.OpListActive)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, pulls, fake.Calls(remotetest.OpListActive), "no pulls after stop")
}

func TestStart_SubscribeFailureFallsBackToPolling(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	fake.FailWith(remotetest.OpSubscribe, errors.New("no websocket"))
	engine, database := setupEngine(t, fake)

	_, err := engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))

	fake.Seed("alice", memo("a", "A", 1))
	require.Eventually(t, func() bool {
		return len(localIDs(t, database)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStart_ReportsPullErrors(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	engine, _ := setupEngine(t, fake)

	_, err := engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)
	fake.FailWith(remotetest.OpListActive, errors.New("502"))
	require.NoError(t, engine.Start(ctx))

	select {
	case err := <-engine.Errors():
		assert.Contains(t, err.Error(), "502")
	case <-time.After(2 * time.Second):
		t.Fatal("pull error not reported")
	}
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	engine, _ := setupEngine(t, fake)

	_, err := engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))

	engine.Deactivate()
	assert.False(t, engine.Active())
	assert.Empty(t, engine.UserID())
	assert.Equal(t, 0, fake.Subscribers("alice"))

	_, err = engine.Remote().Put(ctx, Write{Item: memo("x", "X", 1)})
	assert.ErrorIs(t, err, ErrCloudInactive)
}

func TestInitializeCloudFirst_SwitchingUsers(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	engine, _ := setupEngine(t, fake)

	_, err := engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, engine.Start(ctx))

	_, err = engine.InitializeCloudFirst(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", engine.UserID())
	assert.Equal(t, 0, fake.Subscribers("alice"))
}

func TestPush(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.NewFake()
	engine, _ := setupEngine(t, fake)

	_, err := engine.Push(ctx, []schema.Item{memo("a", "A", 1)})
	assert.ErrorIs(t, err, ErrCloudInactive)

	_, err = engine.InitializeCloudFirst(ctx, "alice")
	require.NoError(t, err)

	n, err := engine.Push(ctx, []schema.Item{memo("a", "A", 1), memo("b", "B", 2)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	row, ok := fake.Row("alice", "b")
	require.True(t, ok)
	assert.Equal(t, int64(2), row.CreatedAt.UnixMilli())

	fake.FailWith(remotetest.OpUpsert, errors.New("offline"))
	n, err = engine.Push(ctx, []schema.Item{memo("c", "C", 3)})
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}
