// Package ui holds layout helpers shared by the interactive views.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/peertrust/internal/theme"
)

// Layout tracks the terminal size of a full-screen view.
type Layout struct {
	Width  int
	Height int
}

// NewLayout creates a Layout with the given terminal dimensions.
func NewLayout(width, height int) Layout {
	return Layout{Width: width, Height: height}
}

// ContentHeight returns the rows left between the header and status bar.
func (l Layout) ContentHeight() int {
	if l.Height < 2 {
		return 0
	}
	return l.Height - 2
}

// Header renders the title on the left and status on the right.
func (l Layout) Header(title, status string) string {
	return bar(theme.HeaderStyle, l.Width, title, status)
}

// StatusBar renders keyboard hints across the full width.
func (l Layout) StatusBar(hints string) string {
	return bar(theme.StatusBarStyle, l.Width, hints, "")
}

// Frame stacks a header, the content and a status bar.
func (l Layout) Frame(title, status, content, hints string) string {
	if l.Width == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, content, hints)
	}
	body := lipgloss.NewStyle().Height(l.ContentHeight()).Render(content)
	return lipgloss.JoinVertical(
		lipgloss.Left,
		l.Header(title, status),
		body,
		l.StatusBar(hints),
	)
}

// bar renders left and right with style, padding the gap between them so
// the bar spans width.
func bar(style lipgloss.Style, width int, left, right string) string {
	l := style.Render(left)
	var r string
	if right != "" {
		r = style.Render(right)
	}

	gap := width - lipgloss.Width(l) - lipgloss.Width(r)
	if gap < 0 {
		gap = 0
	}
	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, l, filler, r)
}
