// Package logview is the scrollable transfer log pane. It follows the
// newest line until the user scrolls up, and follows again once they
// scroll back to the bottom.
package logview

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
	"github.com/xferwatch/xferwatch/internal/store"
	"github.com/xferwatch/xferwatch/internal/tui/theme"
)

const maxLines = 2000

type Model struct {
	lines    []store.Line
	lastSeq  uint64
	viewport viewport.Model
}

func New() Model {
	return Model{viewport: viewport.New(80, 10)}
}

// SetSize sizes the pane, borders included.
func (m *Model) SetSize(width, height int) {
	m.viewport.Width = max(width-2, 10)
	m.viewport.Height = max(height-2, 3)
	m.refresh(m.viewport.AtBottom())
}

// Reset replaces the content, e.g. with a snapshot's history.
func (m *Model) Reset(lines []store.Line) {
	m.lines = nil
	m.lastSeq = 0
	m.Append(lines)
	m.viewport.GotoBottom()
}

// Append adds lines not seen yet. Lines at or below the last sequence
// number are skipped, so a snapshot followed by a delta that overlaps it
// does not repeat anything. It returns the lines that were added.
func (m *Model) Append(lines []store.Line) []store.Line {
	follow := m.viewport.AtBottom()
	var added []store.Line
	for _, l := range lines {
		if l.Seq != 0 && l.Seq <= m.lastSeq {
			continue
		}
		added = append(added, l)
		m.lines = append(m.lines, l)
		if l.Seq > m.lastSeq {
			m.lastSeq = l.Seq
		}
	}
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	m.refresh(follow)
	return added
}

func (m *Model) ScrollUp(n int)   { m.viewport.ScrollUp(n) }
func (m *Model) ScrollDown(n int) { m.viewport.ScrollDown(n) }

// Len is the number of lines held.
func (m Model) Len() int { return len(m.lines) }

// Following reports whether new lines scroll into view.
func (m Model) Following() bool { return m.viewport.AtBottom() }

func (m *Model) refresh(follow bool) {
	rendered := make([]string, len(m.lines))
	for i, l := range m.lines {
		rendered[i] = renderLine(l)
	}
	m.viewport.SetContent(strings.Join(rendered, "\n"))
	if follow {
		m.viewport.GotoBottom()
	}
}

func renderLine(l store.Line) string {
	ts := theme.StyleDimmed.Render(l.Time.Format("15:04:05"))
	log := theme.StyleDimmed.Render(fmt.Sprintf("%-14s", truncate(l.Log, 14)))
	text := lipgloss.NewStyle().Foreground(theme.RecordColor(l.Type)).Render(l.Text())
	return ts + " " + log + " " + text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}

func (m Model) View() string {
	if len(m.lines) == 0 {
		return theme.StyleBorder.
			Width(m.viewport.Width).
			Height(m.viewport.Height).
			Render(theme.StyleDimmed.Render("  Waiting for transfer logs..."))
	}
	return theme.StyleBorder.Render(m.viewport.View())
}
