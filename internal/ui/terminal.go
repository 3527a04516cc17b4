package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// DefaultWidth is used when the output is not a terminal.
const DefaultWidth = 80

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Width returns the column count of f, or DefaultWidth.
func Width(f *os.File) int {
	if !IsTerminal(f) {
		return DefaultWidth
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return DefaultWidth
	}
	return w
}

// Setup picks the color profile for w. Colors are dropped when w is not a
// terminal or when noColor is set (NO_COLOR, --no-color).
func Setup(w io.Writer, noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	f, ok := w.(*os.File)
	if !ok || !IsTerminal(f) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(f).EnvColorProfile())
}
