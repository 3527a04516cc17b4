package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/huh"

	"github.com/tilesticker/sticky/internal/schema"
)

// EditValues holds the editable fields of one card as form strings.
type EditValues struct {
	Title   string
	Content string
	Done    bool
	Href    string
	List    string // one entry per line
	Date    string
	Note    string
	Tags    string // comma separated
}

// NewEditValues copies item into form values.
func NewEditValues(item schema.Item) *EditValues {
	v := &EditValues{
		Title: item.Title,
		List:  strings.Join(item.List, "\n"),
		Tags:  strings.Join(item.Tags, ", "),
	}
	if item.Content != nil {
		v.Content = *item.Content
	}
	if item.Done != nil {
		v.Done = *item.Done
	}
	if item.Href != nil {
		v.Href = *item.Href
	}
	if item.Date != nil {
		v.Date = item.Date.SelectedDate
		v.Note = item.Date.Note
	}
	return v
}

// Patch returns the changes the values make to item. Only fields that
// belong to item's type are considered.
func (v *EditValues) Patch(item schema.Item) schema.Patch {
	next := item.Clone()
	next.Title = v.Title
	next.Tags = splitTags(v.Tags)

	switch item.Type {
	case schema.TypeTodo:
		next.Done = schema.Ptr(v.Done)
		if item.Content != nil || v.Content != "" {
			next.Content = schema.Ptr(v.Content)
		}
	case schema.TypeMemo:
		next.Content = schema.Ptr(v.Content)
	case schema.TypeLink:
		next.Href = schema.Ptr(v.Href)
	case schema.TypeList:
		next.List = strings.Split(v.List, "\n")
	case schema.TypeDate:
		if item.Date != nil || v.Date != "" || v.Note != "" {
			next.Date = &schema.DateInfo{SelectedDate: v.Date, Note: v.Note}
		}
		next.Content = schema.Ptr(v.Content)
	}

	// Compare sanitized forms so untouched fields stay out of the patch.
	return schema.Diff(schema.SanitizeItem(item), schema.SanitizeItem(next))
}

func splitTags(s string) []string {
	var tags []string
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	if tags == nil {
		return []string{}
	}
	return tags
}

func maxLen(field string, limit int) func(string) error {
	return func(s string) error {
		if n := utf8.RuneCountInString(s); n > limit {
			return fmt.Errorf("%s must be %d characters or less (got %d)", field, limit, n)
		}
		return nil
	}
}

func validateTitle(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("title is required")
	}
	return maxLen("title", schema.MaxTitleLen)(s)
}

func validateHref(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if err := maxLen("href", schema.MaxHrefLen)(s); err != nil {
		return err
	}
	if !schema.IsValidURL(s) {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

func validateDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return errors.New("use YYYY-MM-DD")
	}
	return nil
}

func validateTags(s string) error {
	tags := splitTags(s)
	if len(tags) > schema.MaxTags {
		return fmt.Errorf("at most %d tags", schema.MaxTags)
	}
	for _, tag := range tags {
		if err := maxLen("tag "+tag, schema.MaxTagLen)(tag); err != nil {
			return err
		}
	}
	return nil
}

// EditForm builds the huh form for a card of type t bound to v.
func EditForm(t schema.Type, v *EditValues) *huh.Form {
	fields := []huh.Field{
		huh.NewInput().Title("Title").Value(&v.Title).Validate(validateTitle),
	}

	switch t {
	case schema.TypeTodo:
		fields = append(fields,
			huh.NewConfirm().Title("Done?").Value(&v.Done),
			huh.NewInput().Title("Subtitle").Value(&v.Content).Validate(maxLen("content", schema.MaxContentLen)),
		)
	case schema.TypeMemo:
		fields = append(fields,
			huh.NewText().Title("Memo").Value(&v.Content).Lines(6).Validate(maxLen("content", schema.MaxContentLen)),
		)
	case schema.TypeLink:
		fields = append(fields,
			huh.NewInput().Title("URL").Placeholder("https://").Value(&v.Href).Validate(validateHref),
		)
	case schema.TypeList:
		fields = append(fields,
			huh.NewText().Title("Entries (one per line)").Value(&v.List).Lines(8),
		)
	case schema.TypeDate:
		fields = append(fields,
			huh.NewInput().Title("Date").Placeholder(time.Now().Format(time.DateOnly)).Value(&v.Date).Validate(validateDate),
			huh.NewInput().Title("Note").Value(&v.Note),
		)
	}

	fields = append(fields,
		huh.NewInput().Title("Tags").Description("comma separated").Value(&v.Tags).Validate(validateTags),
	)
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true)
}

// EditItem runs the edit form for item and returns the resulting patch.
// An aborted form returns huh.ErrUserAborted.
func EditItem(item schema.Item) (schema.Patch, error) {
	v := NewEditValues(item)
	if err := EditForm(item.Type, v).Run(); err != nil {
		return schema.Patch{}, err
	}
	return v.Patch(item), nil
}
