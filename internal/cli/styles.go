package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Italic(true)

	DangerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// IntensityColors are the activity grid steps, lowest first
	IntensityColors = []lipgloss.Color{"236", "22", "28", "34", "40"}
)

// Cell renders one activity grid square at the given intensity step.
func Cell(level int) string {
	if level < 0 {
		level = 0
	}
	if level >= len(IntensityColors) {
		level = len(IntensityColors) - 1
	}
	return lipgloss.NewStyle().Foreground(IntensityColors[level]).Render("■")
}

// Truncate pads or cuts s to width display columns.
func Truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s + strings.Repeat(" ", width-lipgloss.Width(s))
	}
	runes := []rune(s)
	if width <= 3 {
		return string(runes[:width])
	}
	for len(runes) > 0 && lipgloss.Width(string(runes))+3 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

