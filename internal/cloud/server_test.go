package cloud

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilesticker/sticky/internal/remote"
	"github.com/tilesticker/sticky/internal/schema"
)

var quiet = log.New(io.Discard, "", 0)

func newSQLBackend(t *testing.T) *SQLBackend {
	t.Helper()
	b, err := OpenSQL(context.Background(), filepath.Join(t.TempDir(), "cloud.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// startServer runs a Server behind httptest and returns a client for user.
func startServer(t *testing.T, tokens map[string]string, token string) (*Server, *remote.HTTPClient) {
	t.Helper()

	srv, err := NewServer(Config{Backend: newSQLBackend(t), Tokens: tokens, Logger: quiet})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Stop()
		ts.Close()
	})

	client, err := remote.NewHTTPClient(remote.Config{
		BaseURL:        ts.URL,
		Token:          token,
		Timeout:        5 * time.Second,
		ReconnectDelay: 50 * time.Millisecond,
		Logger:         quiet,
	})
	require.NoError(t, err)
	return srv, client
}

func TestServer_CRUDLifecycle(t *testing.T) {
	ctx := context.Background()
	_, client := startServer(t, nil, "")

	require.NoError(t, client.Ping(ctx))

	empty, err := client.IsEmpty(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, empty)

	item := schema.New(schema.TypeMemo, "m1", 1700000000000)
	item.Title = "Test"
	created, err := client.Insert(ctx, "alice", item)
	require.NoError(t, err)
	assert.Equal(t, item.CreatedAt, created.CreatedAt)

	_, err = client.Insert(ctx, "alice", item)
	assert.True(t, errors.Is(err, remote.ErrConflict), "got %v", err)

	updated, err := client.Update(ctx, "alice", "m1", schema.Patch{Content: schema.Ptr("Hello")})
	require.NoError(t, err)
	assert.Equal(t, "Hello", *updated.Content)
	assert.Greater(t, updated.UpdatedAt, created.UpdatedAt)

	items, err := client.ListActive(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Hello", *items[0].Content)

	require.NoError(t, client.SoftDelete(ctx, "alice", "m1"))
	items, err = client.ListActive(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, items)

	// Soft-deleted rows still count: the account is not empty.
	empty, err = client.IsEmpty(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, empty)

	_, err = client.Update(ctx, "alice", "m1", schema.Patch{Title: schema.Ptr("zombie")})
	assert.True(t, errors.Is(err, remote.ErrNotFound), "got %v", err)
}

func TestServer_UsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	_, client := startServer(t, nil, "")

	_, err := client.Insert(ctx, "alice", schema.New(schema.TypeTodo, "shared-id", 1))
	require.NoError(t, err)
	_, err = client.Insert(ctx, "bob", schema.New(schema.TypeTodo, "shared-id", 1))
	require.NoError(t, err, "ids are unique per user")

	require.NoError(t, client.SoftDelete(ctx, "bob", "shared-id"))
	alice, err := client.ListActive(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, alice, 1)

	err = client.SoftDelete(ctx, "bob", "missing")
	assert.True(t, errors.Is(err, remote.ErrNotFound))
}

func TestServer_UpsertKeepsTimestamps(t *testing.T) {
	ctx := context.Background()
	_, client := startServer(t, nil, "")

	item := schema.New(schema.TypeList, "l1", 1000)
	item.UpdatedAt = 2000
	got, err := client.Upsert(ctx, "u", item)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.CreatedAt)
	assert.Equal(t, int64(2000), got.UpdatedAt)
	assert.Equal(t, []string{""}, got.List)

	// Upsert revives a soft-deleted row.
	require.NoError(t, client.SoftDelete(ctx, "u", "l1"))
	_, err = client.Upsert(ctx, "u", item)
	require.NoError(t, err)
	items, err := client.ListActive(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestServer_RejectsInvalidRows(t *testing.T) {
	ctx := context.Background()
	_, client := startServer(t, nil, "")

	bad := schema.New(schema.TypeLink, "bad", 1)
	bad.Href = schema.Ptr("not a url")
	_, err := client.Insert(ctx, "u", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	_, err = client.Insert(ctx, "u", schema.New(schema.TypeMemo, "ok", 1))
	require.NoError(t, err)
	_, err = client.Update(ctx, "u", "ok", schema.Patch{Title: schema.Ptr("")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title is required")
}

func TestServer_Auth(t *testing.T) {
	ctx := context.Background()
	tokens := map[string]string{"alice-token": "alice"}

	_, alice := startServer(t, tokens, "alice-token")
	_, err := alice.ListActive(ctx, "alice")
	require.NoError(t, err)

	_, err = alice.ListActive(ctx, "bob")
	assert.True(t, errors.Is(err, remote.ErrUnauthorized), "cross-user access: %v", err)

	// Health is public.
	require.NoError(t, alice.Ping(ctx))

	_, anon := startServer(t, tokens, "")
	_, err = anon.ListActive(ctx, "alice")
	assert.True(t, errors.Is(err, remote.ErrUnauthorized), "missing token: %v", err)

	_, wrong := startServer(t, tokens, "stolen")
	_, err = wrong.IsEmpty(ctx, "alice")
	assert.True(t, errors.Is(err, remote.ErrUnauthorized), "bad token: %v", err)

	_, err = wrong.Subscribe(ctx, "alice", func() {})
	assert.True(t, errors.Is(err, remote.ErrUnauthorized), "bad token on stream: %v", err)
}

func TestServer_ChangeStream(t *testing.T) {
	ctx := context.Background()
	srv, client := startServer(t, nil, "")

	var hits atomic.Int32
	stop, err := client.Subscribe(ctx, "alice", func() { hits.Add(1) })
	require.NoError(t, err)
	defer stop()

	require.Eventually(t, func() bool {
		srv.clientsMu.RLock()
		defer srv.clientsMu.RUnlock()
		return len(srv.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = client.Insert(ctx, "bob", schema.New(schema.TypeMemo, "other", 1))
	require.NoError(t, err)
	_, err = client.Insert(ctx, "alice", schema.New(schema.TypeMemo, "mine", 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.SoftDelete(ctx, "alice", "mine"))
	require.Eventually(t, func() bool { return hits.Load() == 2 }, 2*time.Second, 10*time.Millisecond)

	stop()
	_, err = client.Insert(ctx, "alice", schema.New(schema.TypeMemo, "after-stop", 1))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), hits.Load(), "no notifications after unsubscribe")
}

func TestServer_HealthReportsVersion(t *testing.T) {
	srv, err := NewServer(Config{Backend: newSQLBackend(t), Logger: quiet})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), remote.APIVersion)
}

func TestNewServer_RequiresBackend(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestServer_BumpIsMonotonic(t *testing.T) {
	fixed := time.UnixMilli(5000).UTC()
	srv, err := NewServer(Config{Backend: newSQLBackend(t), Logger: quiet, Now: func() time.Time { return fixed }})
	require.NoError(t, err)

	assert.Equal(t, fixed, srv.bump(fixed.Add(-time.Second)))
	assert.Equal(t, fixed.Add(time.Millisecond), srv.bump(fixed))
	assert.Equal(t, fixed.Add(time.Second+time.Millisecond), srv.bump(fixed.Add(time.Second)))
}
