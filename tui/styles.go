package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("#7D56F4")
	colorSecondary = lipgloss.Color("#F4A956")
	colorText      = lipgloss.Color("#FAFAFA")
	colorSubtext   = lipgloss.Color("#777777")
	colorSuccess   = lipgloss.Color("#43BF6D")

	styleWindow = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorPrimary).
			Align(lipgloss.Center)

	// Panels keep their title on the first line, so no top padding.
	stylePanelTitled = lipgloss.NewStyle().
				Border(lipgloss.ThickBorder()).
				BorderForeground(colorSubtext).
				Padding(0, 1)

	styleFooter = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorSubtext).
			Padding(0, 1)

	styleTitle = lipgloss.NewStyle().
			Background(colorPrimary).
			Foreground(colorText).
			Padding(0, 1).
			Bold(true)

	styleAppTitle = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Bold(true).
			Padding(0, 1).
			Align(lipgloss.Center)

	styleSection = lipgloss.NewStyle().
			MarginTop(1).
			Foreground(colorSecondary).
			Bold(true)

	styleSelected = lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	styleKey      = lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	styleLabel    = lipgloss.NewStyle().Foreground(colorSubtext).Width(10)
	styleValue    = lipgloss.NewStyle().Foreground(colorText)
	styleSubtext  = lipgloss.NewStyle().Foreground(colorSubtext)

	styleScreenTooSmall = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				Align(lipgloss.Center, lipgloss.Center)

	scrollbarTrack = lipgloss.NewStyle().Foreground(colorSubtext)
	scrollbarThumb = lipgloss.NewStyle().Foreground(colorPrimary)
)
