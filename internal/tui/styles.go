package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorTitle   = lipgloss.Color("#FFB000")
	colorText    = lipgloss.Color("#DDDDDD")
	colorDim     = lipgloss.Color("#777777")
	colorAlarm   = lipgloss.Color("#FF3300")
	colorSteady  = lipgloss.Color("#00CC33")
	colorWaiting = lipgloss.Color("#FFAA00")
)

var (
	styleTitle = lipgloss.NewStyle().
			Foreground(colorTitle).
			Bold(true).
			Padding(0, 1)

	styleStats = lipgloss.NewStyle().
			Foreground(colorText)

	styleHelp = lipgloss.NewStyle().
			Foreground(colorDim)

	styleAlarm = lipgloss.NewStyle().
			Background(colorAlarm).
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true).
			Padding(0, 1)

	styleSteady = lipgloss.NewStyle().
			Foreground(colorSteady).
			Bold(true)

	styleCalibrating = lipgloss.NewStyle().
				Foreground(colorWaiting).
				Bold(true)

	styleError = lipgloss.NewStyle().
			Foreground(colorAlarm)

	styleGrid = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim)
)
