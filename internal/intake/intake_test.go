package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilesticker/sticky/internal/schema"
)

var (
	quiet = log.New(io.Discard, "", 0)
	fixedNow = time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)
)

// memCreator is an in-memory Creator.
type memCreator struct {
	mu    sync.Mutex
	items map[string]schema.Item
	order []string
	fail  error
}

func newMemCreator() *memCreator {
	return &memCreator{items: make(map[string]schema.Item)}
}

func (c *memCreator) Add(ctx context.Context, t schema.Type) (schema.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := fmt.Sprintf("c%d", len(c.order)+1)
	item := schema.New(t, id, 1)
	c.items[id] = item
	c.order = append(c.order, id)
	return item, nil
}

func (c *memCreator) Update(ctx context.Context, id string, patch schema.Patch) (schema.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return schema.Item{}, c.fail
	}
	item := schema.Apply(c.items[id], schema.SanitizePatch(patch))
	if err := schema.Validate(item); err != nil {
		return schema.Item{}, err
	}
	c.items[id] = item
	return item, nil
}

func (c *memCreator) all() []schema.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schema.Item, len(c.order))
	for i, id := range c.order {
		out[i] = c.items[id]
	}
	return out
}

func TestParseQuery_Groups(t *testing.T) {
	tests := []struct {
		name  string
		query string
		typ   schema.Type
		check func(t *testing.T, patches []schema.Patch)
	}{
		{
			name:  "todos with shared tags",
			query: "make_todo_name=Buy%20milk&make_todo_name=Call%20mom&tags=home,%20errand,",
			typ:   schema.TypeTodo,
			check: func(t *testing.T, patches []schema.Patch) {
				require.Len(t, patches, 2)
				assert.Equal(t, "Buy milk", *patches[0].Title)
				assert.Equal(t, "Call mom", *patches[1].Title)
				assert.Equal(t, []string{"home", "errand"}, *patches[1].Tags)
				assert.Equal(t, "", *patches[0].Content)
			},
		},
		{
			name:  "memos paired by position",
			query: "make_memo_name=A&memo=first&memo=second",
			typ:   schema.TypeMemo,
			check: func(t *testing.T, patches []schema.Patch) {
				require.Len(t, patches, 2)
				assert.Equal(t, "A", *patches[0].Title)
				assert.Equal(t, "New Memo", *patches[1].Title)
				assert.Equal(t, "second", *patches[1].Content)
				assert.Empty(t, *patches[0].Tags)
			},
		},
		{
			name:  "link",
			query: "link=https%3A%2F%2Fgo.dev",
			typ:   schema.TypeLink,
			check: func(t *testing.T, patches []schema.Patch) {
				require.Len(t, patches, 1)
				assert.Equal(t, "New Link", *patches[0].Title)
				assert.Equal(t, "https://go.dev", *patches[0].Href)
			},
		},
		{
			name:  "list entries split on commas",
			query: "make_list_name=Shopping&list=eggs,%20milk,,bread&make_list_name=Empty",
			typ:   schema.TypeList,
			check: func(t *testing.T, patches []schema.Patch) {
				require.Len(t, patches, 2)
				assert.Equal(t, []string{"eggs", "milk", "bread"}, *patches[0].List)
				assert.Equal(t, []string{""}, *patches[1].List)
			},
		},
		{
			name:  "dates default to today",
			query: "make_date_name=Dentist&date=2024-06-01&date_note=bring%20card&make_date_name=Today",
			typ:   schema.TypeDate,
			check: func(t *testing.T, patches []schema.Patch) {
				require.Len(t, patches, 2)
				assert.Equal(t, schema.DateInfo{SelectedDate: "2024-06-01", Note: "bring card"}, *patches[0].Date)
				assert.Equal(t, "2024-05-15", patches[1].Date.SelectedDate)
			},
		},
		{
			name:  "first group wins",
			query: "make_memo_name=later&make_todo_name=first",
			typ:   schema.TypeTodo,
			check: func(t *testing.T, patches []schema.Patch) {
				require.Len(t, patches, 1)
				assert.Equal(t, "first", *patches[0].Title)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseQuery(tt.query, fixedNow)
			require.NoError(t, err)
			require.NotNil(t, req)
			assert.Equal(t, tt.typ, req.Type)
			tt.check(t, req.Patches)
		})
	}
}

func TestParseQuery_NoInstructions(t *testing.T) {
	req, err := ParseQuery("?q=hello&tags=x", fixedNow)
	require.NoError(t, err)
	assert.Nil(t, req)

	_, err = ParseQuery("%zz", fixedNow)
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	tests := map[string]string{
		"2024-07-04": "2024-07-04",
		" tomorrow ": "2024-05-16",
	}
	for in, want := range tests {
		got, err := ParseDate(in, fixedNow)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDate("zzzz", fixedNow)
	assert.Error(t, err)
}

func TestStrip(t *testing.T) {
	query := "make_memo_name=A&memo=x&tags=t&make_todo_name=B&keep=1"
	req, err := ParseQuery(query, fixedNow)
	require.NoError(t, err)

	rest, err := Strip(query, req)
	require.NoError(t, err)
	assert.Equal(t, "keep=1&make_memo_name=A&memo=x", rest)
}

func TestRun_AppliesEveryGroupOverPasses(t *testing.T) {
	ctx := context.Background()
	c := newMemCreator()

	query := "make_todo_name=T1&make_memo_name=M1&memo=body&tags=inbox"
	created, rest, err := Run(ctx, c, query, fixedNow)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, schema.TypeTodo, created[0].Type)
	assert.Equal(t, []string{"inbox"}, created[0].Tags)
	assert.Equal(t, "make_memo_name=M1&memo=body", rest)

	created, rest, err = Run(ctx, c, rest, fixedNow)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "body", *created[0].Content)
	assert.Empty(t, created[0].Tags, "tags were consumed by the first pass")
	assert.Empty(t, rest)

	created, rest, err = Run(ctx, c, rest, fixedNow)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, rest)
}

func TestApply_StopsOnFailure(t *testing.T) {
	ctx := context.Background()
	c := newMemCreator()
	c.fail = errors.New("disk full")

	req, err := ParseQuery("make_todo_name=a&make_todo_name=b", fixedNow)
	require.NoError(t, err)
	created, err := Apply(ctx, c, req)
	require.Error(t, err)
	assert.Empty(t, created)

	created, err = Apply(ctx, c, nil)
	require.NoError(t, err)
	assert.Nil(t, created)
}

func TestInbox_ProcessFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := newMemCreator()

	inbox, err := NewInbox(dir, c, &InboxConfig{DebounceInterval: 10 * time.Millisecond, Now: func() time.Time { return fixedNow }, Logger: quiet})
	require.NoError(t, err)

	path := filepath.Join(dir, "batch.txt")
	content := "# morning batch\n\nmake_todo_name=one&make_list_name=L&list=a,b\nhttps://board.example/?make_link_name=Go&link=https%3A%2F%2Fgo.dev\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	require.NoError(t, inbox.ProcessFile(ctx, path))
	items := c.all()
	require.Len(t, items, 3)
	assert.Equal(t, schema.TypeTodo, items[0].Type)
	assert.Equal(t, schema.TypeList, items[1].Type)
	assert.Equal(t, []string{"a", "b"}, items[1].List)
	assert.Equal(t, "https://go.dev", *items[2].Href)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "processed files are removed")

	require.NoError(t, inbox.ProcessFile(ctx, path), "missing file is a no-op")
}

func TestInbox_FailedFileIsSetAside(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := newMemCreator()
	inbox, err := NewInbox(dir, c, &InboxConfig{DebounceInterval: 10 * time.Millisecond, Logger: quiet})
	require.NoError(t, err)

	path := filepath.Join(dir, "bad.url")
	require.NoError(t, os.WriteFile(path, []byte("make_link_name=x&link=not-a-url\n"), 0600))

	require.Error(t, inbox.ProcessFile(ctx, path))
	_, err = os.Stat(path + ".failed")
	assert.NoError(t, err)
}

func TestInbox_WatchesDirectory(t *testing.T) {
	dir := t.TempDir()
	c := newMemCreator()

	// A file present before start is drained too.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "early.txt"), []byte("make_memo_name=early\n"), 0600))

	inbox, err := NewInbox(dir, c, &InboxConfig{DebounceInterval: 10 * time.Millisecond, Logger: quiet})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inbox.Start(ctx) }()

	require.Eventually(t, func() bool { return len(c.all()) == 1 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.txt"), []byte("make_todo_name=late\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.md"), []byte("make_todo_name=nope\n"), 0600))
	require.Eventually(t, func() bool { return len(c.all()) == 2 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("inbox did not stop")
	}
	assert.Len(t, c.all(), 2)
}

func TestNewInbox_Validation(t *testing.T) {
	_, err := NewInbox("", newMemCreator(), nil)
	assert.Error(t, err)
	_, err = NewInbox(t.TempDir(), nil, nil)
	assert.Error(t, err)
}
