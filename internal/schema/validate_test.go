package schema

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validItem() Item {
	return Item{
		ID:        "a1",
		Type:      TypeMemo,
		Title:     "Groceries",
		Content:   Ptr("milk"),
		Tags:      []string{"home"},
		CreatedAt: 1000,
		UpdatedAt: 1000,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Item)
		errMsg string
	}{
		{name: "valid item"},
		{name: "missing id", mutate: func(i *Item) { i.ID = "" }, errMsg: "id is required"},
		{name: "unknown type", mutate: func(i *Item) { i.Type = "photo" }, errMsg: `unknown type "photo"`},
		{name: "blank title", mutate: func(i *Item) { i.Title = "   " }, errMsg: "title is required"},
		{
			name:   "title too long",
			mutate: func(i *Item) { i.Title = strings.Repeat("x", MaxTitleLen+1) },
			errMsg: "title must be 200 characters or less",
		},
		{
			name:   "title at limit counts runes",
			mutate: func(i *Item) { i.Title = strings.Repeat("é", MaxTitleLen) },
		},
		{
			name:   "content too long",
			mutate: func(i *Item) { i.Content = Ptr(strings.Repeat("x", MaxContentLen+1)) },
			errMsg: "content must be 20000 characters or less",
		},
		{
			name:   "href not http",
			mutate: func(i *Item) { i.Href = Ptr("ftp://example.com/file") },
			errMsg: "is not a valid http(s) URL",
		},
		{
			name:   "href without host",
			mutate: func(i *Item) { i.Href = Ptr("https://") },
			errMsg: "is not a valid http(s) URL",
		},
		{
			name:   "empty href allowed",
			mutate: func(i *Item) { i.Href = Ptr("") },
		},
		{
			name: "too many tags",
			mutate: func(i *Item) {
				i.Tags = nil
				for n := 0; n <= MaxTags; n++ {
					i.Tags = append(i.Tags, fmt.Sprintf("tag%d", n))
				}
			},
			errMsg: "at most 50 tags allowed",
		},
		{
			name:   "tag too long",
			mutate: func(i *Item) { i.Tags = []string{strings.Repeat("t", MaxTagLen+1)} },
			errMsg: "must be 50 characters or less",
		},
		{
			name:   "duplicate tag",
			mutate: func(i *Item) { i.Tags = []string{"a", "a"} },
			errMsg: `duplicate tag "a"`,
		},
		{
			name:   "list entry too long",
			mutate: func(i *Item) { i.List = []string{strings.Repeat("l", MaxListEntryLen+1)} },
			errMsg: "list entry 0 must be 500 characters or less",
		},
		{
			name:   "updatedAt before createdAt",
			mutate: func(i *Item) { i.UpdatedAt = 10 },
			errMsg: "is before createdAt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := validItem()
			if tt.mutate != nil {
				tt.mutate(&item)
			}
			err := Validate(item)
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.True(t, errors.Is(err, ErrValidation))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.NotEmpty(t, verr.Problems)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	err := Validate(Item{Type: "bogus"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 3)
}

func TestSanitizeItem(t *testing.T) {
	item := Item{
		ID:      "x",
		Type:    TypeList,
		Title:   "  Shopping  ",
		Content: Ptr("\n body \n"),
		List:    []string{"  ", ""},
		Tags:    []string{" work ", "", "work", "home"},
	}

	got := SanitizeItem(item)
	assert.Equal(t, "Shopping", got.Title)
	assert.Equal(t, "body", *got.Content)
	assert.Equal(t, []string{"work", "home"}, got.Tags)
	assert.Equal(t, []string{""}, got.List, "an emptied list card keeps one blank row")

	// Input is not modified.
	assert.Equal(t, "  Shopping  ", item.Title)
	assert.Len(t, item.Tags, 4)
}

func TestSanitizeItem_NilTagsBecomeEmpty(t *testing.T) {
	got := SanitizeItem(Item{ID: "x", Type: TypeMemo, Title: "t"})
	assert.NotNil(t, got.Tags)
	assert.Empty(t, got.Tags)
	assert.Nil(t, got.List)
}

func TestSanitizeTags_Caps(t *testing.T) {
	var tags []string
	for n := 0; n < 80; n++ {
		tags = append(tags, "t"+strings.Repeat("x", n))
	}
	assert.Len(t, SanitizeTags(tags), MaxTags)
}

func TestSanitizeList_Caps(t *testing.T) {
	list := make([]string, 150)
	for n := range list {
		list[n] = "entry"
	}
	assert.Len(t, SanitizeList(list), MaxListEntries)
}

func TestSanitizePatch(t *testing.T) {
	tags := []string{"a", " a ", ""}
	list := []string{" "}
	p := SanitizePatch(Patch{
		Title: Ptr(" hi "),
		Href:  Ptr(" https://example.com "),
		Tags:  &tags,
		List:  &list,
	})
	assert.Equal(t, "hi", *p.Title)
	assert.Equal(t, "https://example.com", *p.Href)
	assert.Equal(t, []string{"a"}, *p.Tags)
	assert.Equal(t, []string{""}, *p.List)
	assert.Nil(t, p.Content)
}

func TestIsValidURL(t *testing.T) {
	assert.True(t, IsValidURL("https://example.com/a?b=c"))
	assert.True(t, IsValidURL("http://localhost:8080"))
	assert.False(t, IsValidURL("example.com"))
	assert.False(t, IsValidURL("javascript:alert(1)"))
	assert.False(t, IsValidURL("mailto:me@example.com"))
}
