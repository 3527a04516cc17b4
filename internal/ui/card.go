package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tilesticker/sticky/internal/schema"
)

// CardWidth is the outer width of one rendered card.
const CardWidth = 30

// maxBodyLines caps the body so one long memo does not dominate a row.
const maxBodyLines = 6

func cardStyle(item schema.Item) lipgloss.Style {
	base := lipgloss.Color(item.EffectiveColor())
	border := base
	if item.Color != nil && item.Color.Shadow != "" {
		border = lipgloss.Color(item.Color.Shadow)
	}
	return lipgloss.NewStyle().
		Width(CardWidth-2).
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Background(base).
		Foreground(ColorInk)
}

// Body returns the type-specific lines of a card, without styling.
func Body(item schema.Item) []string {
	var lines []string
	switch item.Type {
	case schema.TypeTodo:
		box := "[ ]"
		if item.Done != nil && *item.Done {
			box = "[x]"
		}
		lines = append(lines, box)
		if item.Content != nil && *item.Content != "" {
			lines = append(lines, *item.Content)
		}
	case schema.TypeMemo:
		if item.Content != nil && *item.Content != "" {
			lines = append(lines, strings.Split(*item.Content, "\n")...)
		}
	case schema.TypeLink:
		if item.Href != nil && *item.Href != "" {
			lines = append(lines, *item.Href)
		}
	case schema.TypeList:
		for _, entry := range item.List {
			if entry != "" {
				lines = append(lines, "• "+entry)
			}
		}
	case schema.TypeDate:
		if item.Date != nil {
			lines = append(lines, item.Date.SelectedDate)
			if item.Date.Note != "" {
				lines = append(lines, item.Date.Note)
			}
		}
		if item.Content != nil && *item.Content != "" {
			lines = append(lines, *item.Content)
		}
	}
	if len(lines) > maxBodyLines {
		lines = append(lines[:maxBodyLines-1], "…")
	}
	return lines
}

// Card renders one item as a colored box.
func Card(item schema.Item) string {
	var b strings.Builder
	b.WriteString(StyleBold.Render(item.Title))
	for _, line := range Body(item) {
		b.WriteString("\n")
		b.WriteString(line)
	}
	if len(item.Tags) > 0 {
		b.WriteString("\n")
		tags := make([]string, len(item.Tags))
		for i, tag := range item.Tags {
			tags[i] = "#" + tag
		}
		b.WriteString(strings.Join(tags, " "))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s · %s", item.Type, shortID(item.ID)))
	return cardStyle(item).Render(b.String())
}

// Board lays cards out in rows that fit width.
func Board(items []schema.Item, width int) string {
	if len(items) == 0 {
		return RenderDim("No cards.")
	}
	perRow := max(1, width/CardWidth)

	var rows []string
	for start := 0; start < len(items); start += perRow {
		end := min(start+perRow, len(items))
		cards := make([]string, 0, end-start)
		for _, item := range items[start:end] {
			cards = append(cards, Card(item))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// Line renders an item on one line for compact listings.
func Line(item schema.Item) string {
	marker := lipgloss.NewStyle().Foreground(lipgloss.Color(item.EffectiveColor())).Render("■")
	title := item.Title
	if item.Type == schema.TypeTodo && item.Done != nil && *item.Done {
		title = StyleDim.Strikethrough(true).Render(title)
	}
	out := fmt.Sprintf("%s %s  %-5s %s", marker, RenderDim(shortID(item.ID)), item.Type, title)
	if len(item.Tags) > 0 {
		out += "  " + RenderDim("#"+strings.Join(item.Tags, " #"))
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
