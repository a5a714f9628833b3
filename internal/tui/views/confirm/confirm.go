// Package confirm renders the yes/no prompt shown before pausing or
// aborting a transfer.
package confirm

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/xferwatch/xferwatch/internal/tui/theme"
)

// Action identifies what a confirmation approves.
type Action int

const (
	None Action = iota
	Pause
	Abort
)

type Model struct {
	Action Action
	Header string
	Body   string
}

// Prompt returns the prompt for a.
func Prompt(a Action) Model {
	switch a {
	case Pause:
		return Model{Action: a, Header: "Pause the transfer?",
			Body: "The transfer will pause after the item currently in progress finishes."}
	case Abort:
		return Model{Action: a, Header: "Abort the transfer?",
			Body: "Items that have not completed will not be transferred. This cannot be undone."}
	}
	return Model{}
}

func (m Model) Active() bool { return m.Action != None }

func (m Model) View(width int) string {
	innerW := max(width-8, 30)
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.StyleHeader.Render(m.Header),
		"",
		lipgloss.NewStyle().Width(innerW).Render(m.Body),
		"",
		theme.StyleDimmed.Render("y:confirm  n/esc:cancel"),
	)
	return lipgloss.NewStyle().
		Width(innerW).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorWarning).
		Render(content)
}
