package schema

import (
	"slices"
	"time"
)

// Row is the hosted backend's representation of an item: snake_case
// columns, real timestamps, an owning user and a soft-delete marker.
type Row struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Type      Type       `json:"type"`
	Title     string     `json:"title"`
	Content   *string    `json:"content"`
	Done      *bool      `json:"done"`
	Href      *string    `json:"href"`
	List      []string   `json:"list"`
	Date      *DateInfo  `json:"date"`
	Tags      []string   `json:"tags"`
	Color     *Color     `json:"color"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at"`
}

// Deleted reports whether the row carries a soft-delete marker.
func (r Row) Deleted() bool {
	return r.DeletedAt != nil
}

// ToRow converts item into a row owned by userID.
func ToRow(item Item, userID string) Row {
	c := item.Clone()
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return Row{
		ID:        c.ID,
		UserID:    userID,
		Type:      c.Type,
		Title:     c.Title,
		Content:   c.Content,
		Done:      c.Done,
		Href:      c.Href,
		List:      c.List,
		Date:      c.Date,
		Tags:      tags,
		Color:     c.Color,
		CreatedAt: time.UnixMilli(c.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(c.UpdatedAt).UTC(),
	}
}

// ToItem converts r back into an item. The owner and soft-delete marker are
// dropped.
func (r Row) ToItem() Item {
	item := Item{
		ID:        r.ID,
		Type:      r.Type,
		Title:     r.Title,
		List:      slices.Clone(r.List),
		Tags:      slices.Clone(r.Tags),
		CreatedAt: r.CreatedAt.UnixMilli(),
		UpdatedAt: r.UpdatedAt.UnixMilli(),
	}
	if r.Content != nil {
		item.Content = Ptr(*r.Content)
	}
	if r.Done != nil {
		item.Done = Ptr(*r.Done)
	}
	if r.Href != nil {
		item.Href = Ptr(*r.Href)
	}
	if r.Date != nil {
		d := *r.Date
		item.Date = &d
	}
	if r.Color != nil {
		c := *r.Color
		item.Color = &c
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return item
}
