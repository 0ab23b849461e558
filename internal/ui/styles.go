package ui

import "github.com/charmbracelet/lipgloss"

// ANSI 256 palette.
const (
	ColorAccent   = "39"  // Cyan, headers and active stage
	ColorGreen    = "42"  // Done, high scores
	ColorYellow   = "220" // Warnings, middling scores
	ColorRed      = "196" // Errors, low scores
	ColorGray     = "245" // Labels
	ColorDarkGray = "238" // Borders and pending stages
)

// Score bands for result highlighting.
const (
	ScoreHigh = 0.80
	ScoreMid  = 0.60
)

// Styles holds every lipgloss style the terminal views use.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Active  lipgloss.Style
	Label   lipgloss.Style
	Border  lipgloss.Style
	Path    lipgloss.Style
	LineNo  lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return Styles{
		Header:  fg(ColorAccent).Bold(true),
		Success: fg(ColorGreen),
		Warning: fg(ColorYellow),
		Error:   fg(ColorRed),
		Dim:     fg(ColorDarkGray),
		Active:  fg(ColorAccent).Bold(true),
		Label:   fg(ColorGray),
		Border:  fg(ColorDarkGray),
		Path:    fg(ColorAccent).Bold(true),
		LineNo:  fg(ColorGray),
	}
}

// NoColorStyles returns styles that render text unchanged.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header: plain, Success: plain, Warning: plain, Error: plain, Dim: plain,
		Active: plain, Label: plain, Border: plain, Path: plain, LineNo: plain,
	}
}

// GetStyles picks styles for the color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}

// Score picks the band style for a result score: green at 0.80 and
// above, yellow from 0.60, red below.
func (s Styles) Score(score float32) lipgloss.Style {
	switch {
	case score >= ScoreHigh:
		return s.Success
	case score >= ScoreMid:
		return s.Warning
	default:
		return s.Error
	}
}
