package console

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor   = lipgloss.Color("#7AA2F7") // blue
	secondaryColor = lipgloss.Color("#85DCB0") // mint green
	warningColor   = lipgloss.Color("#F6AE2D") // amber
	errorColor     = lipgloss.Color("#E85D75") // soft red
	mutedColor     = lipgloss.Color("#6B7280") // gray
	dimTextColor   = lipgloss.Color("#9CA3AF")

	iconSuccess = "✓"
	iconError   = "✗"
	iconArrow   = "→"
	iconWarn    = "⚠"
)

// styles are bound to a renderer so the color profile follows the writer.
type styles struct {
	title   lipgloss.Style
	box     lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	step    lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	dim     lipgloss.Style
	header  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title: r.NewStyle().
			Bold(true).
			Foreground(primaryColor),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1),
		label: r.NewStyle().
			Foreground(dimTextColor).
			Width(14),
		value: r.NewStyle().Bold(true),
		step: r.NewStyle().
			Foreground(primaryColor),
		success: r.NewStyle().
			Foreground(secondaryColor).
			Bold(true),
		warning: r.NewStyle().
			Foreground(warningColor),
		failure: r.NewStyle().
			Foreground(errorColor).
			Bold(true),
		dim: r.NewStyle().
			Foreground(mutedColor),
		header: r.NewStyle().
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(mutedColor),
	}
}
