package help

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/peertrust/internal/keys"
	"github.com/nhle/peertrust/internal/theme"
)

// Model renders the key bindings of a view, short or in full.
type Model struct {
	keys *keys.KeyMap
	help help.Model
}

// New creates a help model for k.
func New(k *keys.KeyMap) Model {
	h := help.New()
	h.Styles.ShortKey = theme.HelpStyle
	h.Styles.ShortDesc = theme.HelpStyle
	return Model{keys: k, help: h}
}

// Toggle switches between the short and the full listing.
func (m *Model) Toggle() {
	m.help.ShowAll = !m.help.ShowAll
}

// ShowAll reports whether the full listing is shown.
func (m Model) ShowAll() bool {
	return m.help.ShowAll
}

// SetWidth limits the rendered width.
func (m *Model) SetWidth(width int) {
	m.help.Width = width
}

// View renders the bindings.
func (m Model) View() string {
	if !m.help.ShowAll {
		return m.help.View(m.keys)
	}

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		Render("Keyboard Shortcuts")
	return theme.PanelStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left, title, m.help.View(m.keys)),
	)
}
