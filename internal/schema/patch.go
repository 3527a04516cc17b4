package schema

import "slices"

// Patch is a partial update. Nil fields are left untouched.
//
// There is no ID or Type field: both are immutable after creation.
type Patch struct {
	Title   *string   `json:"title,omitempty"`
	Content *string   `json:"content,omitempty"`
	Done    *bool     `json:"done,omitempty"`
	Href    *string   `json:"href,omitempty"`
	List    *[]string `json:"list,omitempty"`
	Date    *DateInfo `json:"date,omitempty"`
	Tags    *[]string `json:"tags,omitempty"`
	Color   *Color    `json:"color,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.Done == nil && p.Href == nil &&
		p.List == nil && p.Date == nil && p.Tags == nil && p.Color == nil
}

// Apply merges p into a copy of item. Timestamps are not touched.
func Apply(item Item, p Patch) Item {
	out := item.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Content != nil {
		out.Content = Ptr(*p.Content)
	}
	if p.Done != nil {
		out.Done = Ptr(*p.Done)
	}
	if p.Href != nil {
		out.Href = Ptr(*p.Href)
	}
	if p.List != nil {
		out.List = slices.Clone(*p.List)
		if out.List == nil {
			out.List = []string{}
		}
	}
	if p.Date != nil {
		d := *p.Date
		out.Date = &d
	}
	if p.Tags != nil {
		out.Tags = slices.Clone(*p.Tags)
		if out.Tags == nil {
			out.Tags = []string{}
		}
	}
	if p.Color != nil {
		c := *p.Color
		out.Color = &c
	}
	return out
}

// Diff builds the patch that turns before into after.
func Diff(before, after Item) Patch {
	var p Patch
	if before.Title != after.Title {
		p.Title = Ptr(after.Title)
	}
	if !equalPtr(before.Content, after.Content) && after.Content != nil {
		p.Content = Ptr(*after.Content)
	}
	if !equalPtr(before.Done, after.Done) && after.Done != nil {
		p.Done = Ptr(*after.Done)
	}
	if !equalPtr(before.Href, after.Href) && after.Href != nil {
		p.Href = Ptr(*after.Href)
	}
	if !slices.Equal(before.List, after.List) {
		l := slices.Clone(after.List)
		p.List = &l
	}
	if !equalPtr(before.Date, after.Date) && after.Date != nil {
		d := *after.Date
		p.Date = &d
	}
	if !slices.Equal(before.Tags, after.Tags) {
		t := slices.Clone(after.Tags)
		p.Tags = &t
	}
	if !equalPtr(before.Color, after.Color) && after.Color != nil {
		c := *after.Color
		p.Color = &c
	}
	return p
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
