package schema

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Field limits, counted in characters.
const (
	MaxTitleLen     = 200
	MaxContentLen   = 20000
	MaxHrefLen      = 2048
	MaxTags         = 50
	MaxTagLen       = 50
	MaxListEntries  = 100
	MaxListEntryLen = 500
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError lists every rule an item violates.
type ValidationError struct {
	ID       string
	Problems []string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid item: %s", strings.Join(e.Problems, "; "))
	}
	return fmt.Sprintf("invalid item %s: %s", e.ID, strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validate checks item against the field rules and returns a
// *ValidationError listing all problems, or nil.
func Validate(item Item) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if item.ID == "" {
		add("id is required")
	}
	if !item.Type.Valid() {
		add("unknown type %q", item.Type)
	}

	if strings.TrimSpace(item.Title) == "" {
		add("title is required")
	} else if n := utf8.RuneCountInString(item.Title); n > MaxTitleLen {
		add("title must be %d characters or less (got %d)", MaxTitleLen, n)
	}

	if item.Content != nil {
		if n := utf8.RuneCountInString(*item.Content); n > MaxContentLen {
			add("content must be %d characters or less (got %d)", MaxContentLen, n)
		}
	}

	if item.Href != nil && *item.Href != "" {
		if n := utf8.RuneCountInString(*item.Href); n > MaxHrefLen {
			add("href must be %d characters or less (got %d)", MaxHrefLen, n)
		} else if !IsValidURL(*item.Href) {
			add("href %q is not a valid http(s) URL", *item.Href)
		}
	}

	if len(item.Tags) > MaxTags {
		add("at most %d tags allowed (got %d)", MaxTags, len(item.Tags))
	}
	seen := make(map[string]bool, len(item.Tags))
	for _, tag := range item.Tags {
		if utf8.RuneCountInString(tag) > MaxTagLen {
			add("tag %q must be %d characters or less", tag, MaxTagLen)
		}
		if seen[tag] {
			add("duplicate tag %q", tag)
		}
		seen[tag] = true
	}

	if len(item.List) > MaxListEntries {
		add("at most %d list entries allowed (got %d)", MaxListEntries, len(item.List))
	}
	for i, entry := range item.List {
		if utf8.RuneCountInString(entry) > MaxListEntryLen {
			add("list entry %d must be %d characters or less", i, MaxListEntryLen)
		}
	}

	if item.CreatedAt > 0 && item.UpdatedAt < item.CreatedAt {
		add("updatedAt (%d) is before createdAt (%d)", item.UpdatedAt, item.CreatedAt)
	}

	if len(problems) > 0 {
		return &ValidationError{ID: item.ID, Problems: problems}
	}
	return nil
}

// IsValidURL reports whether s parses as an absolute http or https URL.
func IsValidURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// SanitizeItem trims free text, drops empty and duplicate tags, and drops
// empty list entries. A list that ends up empty keeps a single blank entry
// so a list card always has a row to edit.
func SanitizeItem(item Item) Item {
	out := item.Clone()
	out.Title = strings.TrimSpace(out.Title)
	if out.Content != nil {
		out.Content = Ptr(strings.TrimSpace(*out.Content))
	}
	if out.Href != nil {
		out.Href = Ptr(strings.TrimSpace(*out.Href))
	}
	if out.Tags != nil {
		out.Tags = SanitizeTags(out.Tags)
	} else {
		out.Tags = []string{}
	}
	if out.List != nil {
		out.List = SanitizeList(out.List)
		if len(out.List) == 0 && out.Type == TypeList {
			out.List = []string{""}
		}
	}
	return out
}

// SanitizePatch applies the same normalization as SanitizeItem to the fields
// a patch sets.
func SanitizePatch(p Patch) Patch {
	out := p
	if p.Title != nil {
		out.Title = Ptr(strings.TrimSpace(*p.Title))
	}
	if p.Content != nil {
		out.Content = Ptr(strings.TrimSpace(*p.Content))
	}
	if p.Href != nil {
		out.Href = Ptr(strings.TrimSpace(*p.Href))
	}
	if p.Tags != nil {
		tags := SanitizeTags(*p.Tags)
		out.Tags = &tags
	}
	if p.List != nil {
		list := SanitizeList(*p.List)
		if len(list) == 0 {
			list = []string{""}
		}
		out.List = &list
	}
	return out
}

// SanitizeTags trims tags, removes empty and duplicate entries, and keeps
// at most MaxTags.
func SanitizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}

// SanitizeList trims entries, removes empty ones, and keeps at most
// MaxListEntries.
func SanitizeList(list []string) []string {
	out := make([]string, 0, len(list))
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		out = append(out, entry)
		if len(out) == MaxListEntries {
			break
		}
	}
	return out
}
