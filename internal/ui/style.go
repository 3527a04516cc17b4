// Package ui renders cards and status lines for the terminal and hosts the
// interactive edit form.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	ColorAccent = lipgloss.Color("#83a598")
	ColorPass   = lipgloss.Color("#8ec07c")
	ColorWarn   = lipgloss.Color("#fabd2f")
	ColorFail   = lipgloss.Color("#fb4934")
	ColorDim    = lipgloss.Color("#928374")
	// Card text stays dark on the pastel palette.
	ColorInk = lipgloss.Color("#282828")
)

var (
	StyleAccent = lipgloss.NewStyle().Foreground(ColorAccent)
	StylePass   = lipgloss.NewStyle().Foreground(ColorPass)
	StyleWarn   = lipgloss.NewStyle().Foreground(ColorWarn)
	StyleFail   = lipgloss.NewStyle().Foreground(ColorFail)
	StyleDim    = lipgloss.NewStyle().Foreground(ColorDim)
	StyleBold   = lipgloss.NewStyle().Bold(true)
)

func RenderAccent(s string) string { return StyleAccent.Render(s) }
func RenderPass(s string) string   { return StylePass.Render(s) }
func RenderWarn(s string) string   { return StyleWarn.Render(s) }
func RenderFail(s string) string   { return StyleFail.Render(s) }
func RenderDim(s string) string    { return StyleDim.Render(s) }
