// Package watch implements `shopworker watch`, a terminal view of a running
// pool fed by the /events/ws stream and /healthz polling.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme keeps every colour used by the watch view in one place.
type Theme struct {
	Succeeded lipgloss.Style
	Running   lipgloss.Style
	Failed    lipgloss.Style
	Queued    lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Dim    lipgloss.Style
	Accent lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Succeeded: lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Running:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Queued:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Accent: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		PulseOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		PulseOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// statusStyle picks the colour for a task status or worker state.
func (t Theme) statusStyle(status string) lipgloss.Style {
	switch status {
	case "succeeded", "idle":
		return t.Succeeded
	case "running", "busy", "stopping":
		return t.Running
	case "failed", "abandoned":
		return t.Failed
	default:
		return t.Queued
	}
}
