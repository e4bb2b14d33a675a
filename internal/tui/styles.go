package tui

import "github.com/charmbracelet/lipgloss"

// Styles holds the pre-computed lipgloss styles for the chat view.
type Styles struct {
	Header    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Secondary lipgloss.Style
	Dim       lipgloss.Style
	Error     lipgloss.Style
	ToolOK    lipgloss.Style
	ToolFail  lipgloss.Style
	Connected lipgloss.Style
	Pending   lipgloss.Style
	InputBox  lipgloss.Style
}

// DefaultStyles returns the built-in color scheme.
func DefaultStyles() *Styles {
	accent := lipgloss.Color("63")
	dim := lipgloss.Color("245")
	red := lipgloss.Color("196")
	green := lipgloss.Color("42")
	yellow := lipgloss.Color("214")

	return &Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),
		User:      lipgloss.NewStyle().Bold(true).Foreground(accent),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(green),
		System:    lipgloss.NewStyle().Bold(true).Foreground(yellow),
		Secondary: lipgloss.NewStyle().Italic(true).Foreground(dim),
		Dim:       lipgloss.NewStyle().Foreground(dim),
		Error:     lipgloss.NewStyle().Foreground(red),
		ToolOK:    lipgloss.NewStyle().Foreground(green),
		ToolFail:  lipgloss.NewStyle().Foreground(red),
		Connected: lipgloss.NewStyle().Foreground(green),
		Pending:   lipgloss.NewStyle().Foreground(yellow),
		InputBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
	}
}
