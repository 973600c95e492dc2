package main

import "github.com/charmbracelet/lipgloss"

// theme holds the color palette for sessionctl's TUI. ANSI 256-color
// codes throughout for broad terminal compatibility.
type theme struct {
	NormalText   lipgloss.Color
	FaintText    lipgloss.Color
	SelectedBG   lipgloss.Color
	SelectedFG   lipgloss.Color
	HeaderFG     lipgloss.Color
	BorderColor  lipgloss.Color
	HelpText     lipgloss.Color
	StateLoaded  lipgloss.Color
	StateRunning lipgloss.Color
	StateDebug   lipgloss.Color
	StateStopped lipgloss.Color
	ErrorText    lipgloss.Color
}

var defaultTheme = theme{
	NormalText:   lipgloss.Color("252"),
	FaintText:    lipgloss.Color("245"),
	SelectedBG:   lipgloss.Color("236"),
	SelectedFG:   lipgloss.Color("255"),
	HeaderFG:     lipgloss.Color("255"),
	BorderColor:  lipgloss.Color("240"),
	HelpText:     lipgloss.Color("241"),
	StateLoaded:  lipgloss.Color("75"),  // blue
	StateRunning: lipgloss.Color("114"), // green
	StateDebug:   lipgloss.Color("141"), // purple
	StateStopped: lipgloss.Color("245"), // gray
	ErrorText:    lipgloss.Color("196"), // red
}

// stateColor maps a session's state string to its display color.
func (t theme) stateColor(state string) lipgloss.Color {
	switch state {
	case "LOADED":
		return t.StateLoaded
	case "RUNNING":
		return t.StateRunning
	case "DEBUGGING":
		return t.StateDebug
	case "STOPPED":
		return t.StateStopped
	default:
		return t.FaintText
	}
}
