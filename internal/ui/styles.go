package ui

import "github.com/charmbracelet/lipgloss"

// Palette, as 256-color codes.
const (
	ColorAccent   = "39"  // headers, active stage
	ColorAccentLo = "31"  // borders of active panels
	ColorPath     = "141" // result paths
	ColorLine     = "114" // line numbers
	ColorGray     = "245" // labels
	ColorDarkGray = "238" // separators
	ColorRed      = "196"
	ColorYellow   = "220"
)

// Styles holds the styles used by the renderers and result output.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Active  lipgloss.Style
	Label   lipgloss.Style
	Border  lipgloss.Style

	Sparkline lipgloss.Style

	// Result rendering.
	Path     lipgloss.Style
	LineNo   lipgloss.Style
	Match    lipgloss.Style
	Semantic lipgloss.Style
	Hybrid   lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return Styles{
		Header:    fg(ColorAccent).Bold(true),
		Success:   fg(ColorLine),
		Warning:   fg(ColorYellow),
		Error:     fg(ColorRed),
		Dim:       fg(ColorDarkGray),
		Active:    fg(ColorAccent).Bold(true),
		Label:     fg(ColorGray),
		Border:    fg(ColorDarkGray),
		Sparkline: fg(ColorAccent),
		Path:      fg(ColorPath).Bold(true),
		LineNo:    fg(ColorLine),
		Match:     lipgloss.NewStyle().Bold(true),
		Semantic:  fg(ColorYellow),
		Hybrid:    fg(ColorAccent),
	}
}

// NoColorStyles returns unstyled components.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header: plain, Success: plain, Warning: plain, Error: plain,
		Dim: plain, Active: plain, Label: plain, Border: plain,
		Sparkline: plain, Path: plain, LineNo: plain, Match: plain,
		Semantic: plain, Hybrid: plain,
	}
}

// GetStyles returns the styles for the color preference. NO_COLOR always
// disables color.
func GetStyles(noColor bool) Styles {
	if noColor || DetectNoColor() {
		return NoColorStyles()
	}
	return DefaultStyles()
}
