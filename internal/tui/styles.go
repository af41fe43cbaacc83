package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskloop/internal/board"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusReview = lipgloss.NewStyle().
				Foreground(lipgloss.Color("33")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StyleSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))
)

// StatusStyle returns the style used for a board column.
func StatusStyle(s board.Status) lipgloss.Style {
	switch s {
	case board.StatusInProgress:
		return StyleStatusRunning
	case board.StatusReview:
		return StyleStatusReview
	case board.StatusComplete:
		return StyleStatusComplete
	case board.StatusTriage:
		return StyleStatusFailed
	default:
		return StyleStatusPending
	}
}
