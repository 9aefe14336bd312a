package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors - all meet WCAG AA contrast (4.5:1) on dark surfaces
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	textColor    = lipgloss.Color("#F9FAFB") // Light text

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor).
			Width(12)

	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	spinnerStyle = lipgloss.NewStyle().Foreground(primaryColor)
)
