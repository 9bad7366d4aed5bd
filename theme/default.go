package theme

import (
	"github.com/pterm/pterm"
)

// Theme defines the colour scheme used by the styled logger.
type Theme struct {
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style

	Counts  *pterm.Style
	Numbers *pterm.Style
	Muted   *pterm.Style

	Node *pterm.Style

	BreakerClosed   *pterm.Style
	BreakerOpen     *pterm.Style
	BreakerHalfOpen *pterm.Style
}

// Default returns the default theme.
func Default() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),

		Counts:  pterm.NewStyle(pterm.FgCyan, pterm.Bold),
		Numbers: pterm.NewStyle(pterm.FgCyan),
		Muted:   pterm.NewStyle(pterm.FgGray),

		Node: pterm.NewStyle(pterm.FgMagenta, pterm.Bold),

		BreakerClosed:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		BreakerOpen:     pterm.NewStyle(pterm.FgRed, pterm.Bold),
		BreakerHalfOpen: pterm.NewStyle(pterm.FgYellow, pterm.Bold),
	}
}

// Dark returns a higher-contrast theme variant for dark terminals.
func Dark() *Theme {
	t := Default()
	t.Debug = pterm.NewStyle(pterm.FgLightBlue)
	t.Info = pterm.NewStyle(pterm.FgLightGreen)
	t.Warn = pterm.NewStyle(pterm.FgLightYellow, pterm.Bold)
	t.Error = pterm.NewStyle(pterm.FgLightRed, pterm.Bold)
	t.BreakerClosed = pterm.NewStyle(pterm.FgLightGreen, pterm.Bold)
	t.BreakerOpen = pterm.NewStyle(pterm.FgLightRed, pterm.Bold)
	return t
}

// GetTheme resolves a theme by name, defaulting when unrecognised.
func GetTheme(name string) *Theme {
	switch name {
	case "dark":
		return Dark()
	default:
		return Default()
	}
}
