// Package theme provides the Lip Gloss color palette and reusable styles
// for the console. It is a leaf package with no internal imports besides
// the state enum.
package theme

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/xferwatch/xferwatch/internal/transfer"
)

// State colors.
var (
	ColorPending  = lipgloss.Color("#7c3aed")
	ColorRunning  = lipgloss.Color("#2563eb")
	ColorPausing  = lipgloss.Color("#d97706")
	ColorPaused   = lipgloss.Color("#854d0e")
	ColorAborting = lipgloss.Color("#dc2626")
	ColorAborted  = lipgloss.Color("#991b1b")
	ColorComplete = lipgloss.Color("#16a34a")
	ColorFailed   = lipgloss.Color("#dc2626")
)

// Record type colors.
var (
	ColorOut     = lipgloss.Color("#d1d5db")
	ColorWarn    = lipgloss.Color("#f59e0b")
	ColorError   = lipgloss.Color("#ef4444")
	ColorControl = lipgloss.Color("#67e8f9")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorDefault = lipgloss.Color("#9ca3af")
)

// StateColor returns the color for a session state.
func StateColor(s transfer.State) lipgloss.Color {
	switch s {
	case transfer.Pending:
		return ColorPending
	case transfer.Running:
		return ColorRunning
	case transfer.Pausing:
		return ColorPausing
	case transfer.Paused:
		return ColorPaused
	case transfer.Aborting:
		return ColorAborting
	case transfer.Aborted:
		return ColorAborted
	case transfer.Completed:
		return ColorComplete
	case transfer.Failed:
		return ColorFailed
	default:
		return ColorDefault
	}
}

// StateGlyph returns a glyph for a session state.
func StateGlyph(s transfer.State) string {
	switch s {
	case transfer.Pending:
		return "◎"
	case transfer.Running:
		return "●>"
	case transfer.Pausing, transfer.Aborting:
		return "◌"
	case transfer.Paused:
		return "‖"
	case transfer.Completed:
		return "✓"
	case transfer.Aborted, transfer.Failed:
		return "✗"
	default:
		return "·"
	}
}

// RecordColor returns the color for a log record type. Raw lines have no
// type.
func RecordColor(recordType string) lipgloss.Color {
	switch recordType {
	case "", "out":
		return ColorOut
	case "warn", "warning":
		return ColorWarn
	case "error", "fail", "failed":
		return ColorError
	case transfer.RecordControl:
		return ColorControl
	default:
		return ColorDefault
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleAlert = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorDanger)
)
