package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TypeDefaults(t *testing.T) {
	const now = int64(1700000000000)

	tests := []struct {
		typ   Type
		title string
		check func(t *testing.T, item Item)
	}{
		{TypeTodo, "New ToDo", func(t *testing.T, item Item) {
			require.NotNil(t, item.Done)
			assert.False(t, *item.Done)
		}},
		{TypeMemo, "New Memo", func(t *testing.T, item Item) {
			require.NotNil(t, item.Content)
			assert.Equal(t, "", *item.Content)
		}},
		{TypeLink, "New Link", func(t *testing.T, item Item) {
			require.NotNil(t, item.Href)
			assert.Equal(t, "", *item.Href)
		}},
		{TypeList, "New List", func(t *testing.T, item Item) {
			assert.Equal(t, []string{""}, item.List)
		}},
		{TypeDate, "New Date", func(t *testing.T, item Item) {
			require.NotNil(t, item.Content)
			assert.Nil(t, item.Date)
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			item := New(tt.typ, "id-1", now)
			assert.Equal(t, tt.typ, item.Type)
			assert.Equal(t, tt.title, item.Title)
			assert.Equal(t, []string{}, item.Tags)
			assert.Equal(t, now, item.CreatedAt)
			assert.Equal(t, now, item.UpdatedAt)
			require.NoError(t, Validate(item))
			tt.check(t, item)
		})
	}
}

func TestParseType(t *testing.T) {
	typ, err := ParseType(" Todo ")
	require.NoError(t, err)
	assert.Equal(t, TypeTodo, typ)

	_, err = ParseType("photo")
	assert.Error(t, err)
}

func TestPriority(t *testing.T) {
	for i, typ := range Types {
		assert.Equal(t, i, typ.Priority())
	}
	assert.Equal(t, 999, Type("other").Priority())
}

func TestApply(t *testing.T) {
	orig := New(TypeTodo, "a", 1)
	orig.Tags = []string{"x"}

	tags := []string{"y", "z"}
	got := Apply(orig, Patch{Title: Ptr("Buy milk"), Done: Ptr(true), Tags: &tags})

	assert.Equal(t, "Buy milk", got.Title)
	assert.True(t, *got.Done)
	assert.Equal(t, []string{"y", "z"}, got.Tags)

	// Original and patch slices are not aliased.
	assert.Equal(t, "New ToDo", orig.Title)
	assert.False(t, *orig.Done)
	assert.Equal(t, []string{"x"}, orig.Tags)
	tags[0] = "mutated"
	assert.Equal(t, "y", got.Tags[0])
}

func TestDiff(t *testing.T) {
	before := New(TypeMemo, "a", 1)
	after := Apply(before, Patch{Content: Ptr("Hello"), Color: &Color{Base: "#000"}})

	p := Diff(before, after)
	require.NotNil(t, p.Content)
	assert.Equal(t, "Hello", *p.Content)
	require.NotNil(t, p.Color)
	assert.Nil(t, p.Title)
	assert.Nil(t, p.Tags)
	assert.True(t, Diff(after, after).IsEmpty())
}

func TestRow_RoundTrip(t *testing.T) {
	item := Item{
		ID:        "r1",
		Type:      TypeDate,
		Title:     "Dentist",
		Content:   Ptr(""),
		Date:      &DateInfo{SelectedDate: "2024-05-01", Note: "9am"},
		Tags:      []string{"health"},
		Color:     &Color{Base: "#a6ffe4"},
		CreatedAt: 1714000000123,
		UpdatedAt: 1714000000456,
	}

	row := ToRow(item, "user-1")
	assert.Equal(t, "user-1", row.UserID)
	assert.Equal(t, time.UnixMilli(item.CreatedAt).UTC(), row.CreatedAt)
	assert.False(t, row.Deleted())

	if diff := cmp.Diff(item, row.ToItem()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRow_JSONColumns(t *testing.T) {
	row := ToRow(New(TypeTodo, "j1", 0), "u")
	data, err := json.Marshal(row)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"id", "user_id", "created_at", "updated_at", "deleted_at", "tags"} {
		assert.Contains(t, raw, key)
	}
	assert.Nil(t, raw["deleted_at"])
}

func TestItem_JSONPreservesEmptyList(t *testing.T) {
	item := New(TypeList, "l1", 5)
	item.List = []string{}

	data, err := json.Marshal(item)
	require.NoError(t, err)

	var back Item
	require.NoError(t, json.Unmarshal(data, &back))
	if diff := cmp.Diff(item, back); diff != "" {
		t.Errorf("json round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEffectiveColor(t *testing.T) {
	item := New(TypeLink, "c", 0)
	assert.Equal(t, "#a6e2ff", item.EffectiveColor())
	item.Color = &Color{Base: "#123456"}
	assert.Equal(t, "#123456", item.EffectiveColor())
}
