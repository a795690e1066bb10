package reporter

import "github.com/charmbracelet/lipgloss"

const (
	colorTitle   lipgloss.Color = "#89b4fa"
	colorSection lipgloss.Color = "#cba6f7"
	colorLabel   lipgloss.Color = "#bac2de"
	colorMuted   lipgloss.Color = "#7f849c"
	colorOK      lipgloss.Color = "#a6e3a1"
	colorWarn    lipgloss.Color = "#f9e2af"
	colorBad     lipgloss.Color = "#f38ba8"
)

type styles struct {
	title   lipgloss.Style
	section lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	plain   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
}

// newStyles returns the console palette; without colors every style
// renders its input unchanged.
func newStyles(colors bool) styles {
	if !colors {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		title:   lipgloss.NewStyle().Foreground(colorTitle).Bold(true),
		section: lipgloss.NewStyle().Foreground(colorSection).Bold(true).Underline(true),
		label:   lipgloss.NewStyle().Foreground(colorLabel),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
		plain:   lipgloss.NewStyle(),
		ok:      lipgloss.NewStyle().Foreground(colorOK),
		warn:    lipgloss.NewStyle().Foreground(colorWarn),
		bad:     lipgloss.NewStyle().Foreground(colorBad).Bold(true),
	}
}
