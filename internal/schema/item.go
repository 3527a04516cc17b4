package schema

import (
	"fmt"
	"slices"
	"strings"
)

// Type is the kind of a card. It is fixed at creation time.
type Type string

const (
	TypeTodo Type = "todo"
	TypeMemo Type = "memo"
	TypeLink Type = "link"
	TypeList Type = "list"
	TypeDate Type = "date"
)

// Types lists every card type in display priority order.
var Types = []Type{TypeTodo, TypeMemo, TypeLink, TypeList, TypeDate}

// Valid returns true if t is one of the known card types.
func (t Type) Valid() bool {
	switch t {
	case TypeTodo, TypeMemo, TypeLink, TypeList, TypeDate:
		return true
	}
	return false
}

// Priority is the position of t in type ordering. Unknown types sort last.
func (t Type) Priority() int {
	switch t {
	case TypeTodo:
		return 0
	case TypeMemo:
		return 1
	case TypeLink:
		return 2
	case TypeList:
		return 3
	case TypeDate:
		return 4
	}
	return 999
}

// DefaultTitle is the title given to a freshly added card.
func (t Type) DefaultTitle() string {
	switch t {
	case TypeTodo:
		return "New ToDo"
	case TypeMemo:
		return "New Memo"
	case TypeLink:
		return "New Link"
	case TypeList:
		return "New List"
	case TypeDate:
		return "New Date"
	}
	return "New Item"
}

// ParseType converts user input into a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid item type %q (want one of todo, memo, link, list, date)", s)
	}
	return t, nil
}

// DateInfo is the payload of a date card.
type DateInfo struct {
	SelectedDate string `json:"selectedDate" yaml:"selectedDate"`
	Note         string `json:"note" yaml:"note"`
}

// Color overrides the type palette for a single card.
type Color struct {
	Base      string `json:"base" yaml:"base"`
	Shadow    string `json:"shadow" yaml:"shadow"`
	Highlight string `json:"highlight" yaml:"highlight"`
}

// Item is a single card.
//
// Optional fields are pointers (or nil slices) so that "absent" survives a
// round trip through JSON, YAML and the database unchanged.
type Item struct {
	ID        string    `json:"id" yaml:"id"`
	Type      Type      `json:"type" yaml:"type"`
	Title     string    `json:"title" yaml:"title"`
	Content   *string   `json:"content,omitempty" yaml:"content,omitempty"`
	Done      *bool     `json:"done,omitempty" yaml:"done,omitempty"`
	Href      *string   `json:"href,omitempty" yaml:"href,omitempty"`
	List      []string  `json:"list" yaml:"list,omitempty"`
	Date      *DateInfo `json:"date,omitempty" yaml:"date,omitempty"`
	Tags      []string  `json:"tags" yaml:"tags"`
	Color     *Color    `json:"color,omitempty" yaml:"color,omitempty"`
	CreatedAt int64     `json:"createdAt" yaml:"createdAt"`
	UpdatedAt int64     `json:"updatedAt" yaml:"updatedAt"`
}

// New builds a card of type t with that type's defaults.
func New(t Type, id string, nowMs int64) Item {
	item := Item{
		ID:        id,
		Type:      t,
		Title:     t.DefaultTitle(),
		Tags:      []string{},
		CreatedAt: nowMs,
		UpdatedAt: nowMs,
	}
	switch t {
	case TypeTodo:
		item.Done = Ptr(false)
	case TypeMemo, TypeDate:
		item.Content = Ptr("")
	case TypeLink:
		item.Href = Ptr("")
	case TypeList:
		item.List = []string{""}
	}
	return item
}

// Clone returns a deep copy of item.
func (item Item) Clone() Item {
	out := item
	if item.Content != nil {
		out.Content = Ptr(*item.Content)
	}
	if item.Done != nil {
		out.Done = Ptr(*item.Done)
	}
	if item.Href != nil {
		out.Href = Ptr(*item.Href)
	}
	if item.Date != nil {
		d := *item.Date
		out.Date = &d
	}
	if item.Color != nil {
		c := *item.Color
		out.Color = &c
	}
	out.List = slices.Clone(item.List)
	out.Tags = slices.Clone(item.Tags)
	return out
}

// EffectiveColor returns the card's override color or its type default.
func (item Item) EffectiveColor() string {
	if item.Color != nil && item.Color.Base != "" {
		return item.Color.Base
	}
	return DefaultColor(item.Type)
}

// DefaultColor is the base palette color for a card type.
func DefaultColor(t Type) string {
	switch t {
	case TypeTodo:
		return "#ffc4f1"
	case TypeMemo:
		return "#fffbb5"
	case TypeLink:
		return "#a6e2ff"
	case TypeList:
		return "#dbc9ff"
	case TypeDate:
		return "#a6ffe4"
	}
	return "#eeeeee"
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
