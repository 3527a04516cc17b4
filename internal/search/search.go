// Package search evaluates board queries over an in-memory item set.
//
// A query is either a tag query ("#work": some tag contains "work") or a
// list of whitespace/comma separated tokens that must all appear in the
// item's title, content, href or tags. Matching is case-insensitive.
package search

import (
	"regexp"
	"slices"
	"strings"

	"github.com/tilesticker/sticky/internal/schema"
)

// SortKey selects the ordering of Filter results.
type SortKey string

const (
	SortCreated SortKey = "createdAt"
	SortUpdated SortKey = "updatedAt"
	SortType    SortKey = "type"
)

// ParseSortKey accepts the canonical keys and a few CLI-friendly aliases.
// Unknown input falls back to SortCreated.
func ParseSortKey(s string) SortKey {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "updatedat", "updated", "updated_at":
		return SortUpdated
	case "type":
		return SortType
	}
	return SortCreated
}

// Options describes one filter pass.
type Options struct {
	Query string
	// Type narrows results to one card type. Empty means all types.
	Type schema.Type
	Sort SortKey
}

var separators = regexp.MustCompile(`[\s,]+`)

// Tokenize lower-cases q and splits it on whitespace and commas.
func Tokenize(q string) []string {
	q = strings.TrimSpace(strings.ToLower(q))
	if q == "" {
		return nil
	}
	var tokens []string
	for _, tok := range separators.Split(q, -1) {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// MatchesQuery reports whether item satisfies query.
func MatchesQuery(item schema.Item, query string) bool {
	q := strings.TrimSpace(query)
	if strings.HasPrefix(q, "#") {
		needle := strings.TrimSpace(strings.ToLower(q[1:]))
		if len(item.Tags) == 0 {
			return false
		}
		if needle == "" {
			return true
		}
		for _, tag := range item.Tags {
			if strings.Contains(strings.ToLower(tag), needle) {
				return true
			}
		}
		return false
	}

	tokens := Tokenize(q)
	if len(tokens) == 0 {
		return true
	}
	hay := haystack(item)
	for _, tok := range tokens {
		if !strings.Contains(hay, tok) {
			return false
		}
	}
	return true
}

func haystack(item schema.Item) string {
	parts := []string{item.Title}
	if item.Content != nil {
		parts = append(parts, *item.Content)
	} else {
		parts = append(parts, "")
	}
	if item.Href != nil {
		parts = append(parts, *item.Href)
	} else {
		parts = append(parts, "")
	}
	parts = append(parts, strings.Join(item.Tags, " "))
	return strings.ToLower(strings.Join(parts, " "))
}

// Filter returns the ids of items matching opts, in display order.
//
// Query filtering runs first, then the type filter, then the sort. Sorting
// is stable: ties keep their input order.
func Filter(items []schema.Item, opts Options) []string {
	matched := make([]schema.Item, 0, len(items))
	for _, item := range items {
		if !MatchesQuery(item, opts.Query) {
			continue
		}
		if opts.Type != "" && item.Type != opts.Type {
			continue
		}
		matched = append(matched, item)
	}

	Sort(matched, opts.Sort)

	ids := make([]string, len(matched))
	for i, item := range matched {
		ids[i] = item.ID
	}
	return ids
}

// Sort orders items in place by key.
func Sort(items []schema.Item, key SortKey) {
	switch key {
	case SortType:
		slices.SortStableFunc(items, func(a, b schema.Item) int {
			return a.Type.Priority() - b.Type.Priority()
		})
	case SortUpdated:
		slices.SortStableFunc(items, func(a, b schema.Item) int {
			return compareDesc(a.UpdatedAt, b.UpdatedAt)
		})
	default:
		slices.SortStableFunc(items, func(a, b schema.Item) int {
			return compareDesc(a.CreatedAt, b.CreatedAt)
		})
	}
}

func compareDesc(a, b int64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}
