package tui

import "github.com/charmbracelet/lipgloss"

// Color Palette
// This is the single source of truth for all popup colors.
var (
	salmonPink  = lipgloss.Color("#FFB3BA") // Soft pastel salmon pink - primary accent
	coralPink   = lipgloss.Color("#FFCCCB") // Lighter coral accent - secondary
	mintGreen   = lipgloss.Color("#A8E6CF") // Soft mint green - success states
	skyBlue     = lipgloss.Color("#A0C4FF") // Soft blue - informational states
	mutedGray   = lipgloss.Color("#6B7280") // Muted gray - secondary text
	brightWhite = lipgloss.Color("#F9FAFB") // Bright white - primary text
)

// Common Styles
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	tipsStyle = lipgloss.NewStyle().
			Foreground(mutedGray)

	userStyle = lipgloss.NewStyle().
			Foreground(coralPink).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(mintGreen).
			Bold(true)

	messageStyle = lipgloss.NewStyle().
			Foreground(brightWhite)

	imageTagStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Italic(true)

	// Status line styles, one per types.StatusKind
	infoStyle = lipgloss.NewStyle().
			Foreground(skyBlue)

	successStyle = lipgloss.NewStyle().
			Foreground(mintGreen)

	errorStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	loadingStyle = lipgloss.NewStyle().
			Foreground(salmonPink)

	// Container Styles
	statusBarStyle = lipgloss.NewStyle().
			Foreground(mutedGray).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(salmonPink).
			Padding(0, 1)

	disabledBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(mutedGray).
				Foreground(mutedGray).
				Padding(0, 1)

	indicatorStyle = lipgloss.NewStyle().
			Foreground(mintGreen).
			Padding(0, 1)
)
