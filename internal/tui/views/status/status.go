// Package status renders the console's top bar.
package status

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/xferwatch/xferwatch/internal/store"
	"github.com/xferwatch/xferwatch/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	Session   store.Snapshot
	Width     int

	spinner spinner.Model
}

func New() Model {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorRunning)
	return Model{spinner: s}
}

// Tick starts the spinner.
func (m Model) Tick() tea.Cmd {
	return m.spinner.Tick
}

// Update advances the spinner. It keeps ticking only while the session
// is animating, so an idle console does not redraw.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if _, ok := msg.(spinner.TickMsg); !ok {
		return m, nil
	}
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	if !m.Session.Animating {
		return m, nil
	}
	return m, cmd
}

func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	state := m.Session.State
	stateStr := lipgloss.NewStyle().Foreground(theme.StateColor(state)).Bold(true).
		Render(theme.StateGlyph(state) + " " + state.String())
	if m.Session.Animating {
		stateStr = m.spinner.View() + " " + stateStr
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + theme.StyleHeader.Render(m.Session.ID) + sep + stateStr
	if m.Session.PID > 0 {
		content += sep + fmt.Sprintf("pid %d", m.Session.PID)
	}
	var lines int
	for _, n := range m.Session.Logs {
		lines += n
	}
	content += sep + fmt.Sprintf("%d logs  %d lines", len(m.Session.Logs), lines)
	if m.Session.Errors > 0 {
		content += "  " + lipgloss.NewStyle().Foreground(theme.ColorWarning).Render(fmt.Sprintf("%d errors", m.Session.Errors))
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
