package theme

import (
	"strings"

	"github.com/pterm/pterm"
)

// Theme defines the colour scheme used by the styled logger.
type Theme struct {
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style

	Muted    *pterm.Style
	Endpoint *pterm.Style
	Provider *pterm.Style
	Counts   pterm.Color

	HealthHealthy   pterm.Color
	HealthUnhealthy pterm.Color
}

// Default returns the default application theme
func Default() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),

		Muted:    pterm.NewStyle(pterm.FgGray),
		Endpoint: pterm.NewStyle(pterm.FgCyan),
		Provider: pterm.NewStyle(pterm.FgMagenta),
		Counts:   pterm.FgLightWhite,

		HealthHealthy:   pterm.FgGreen,
		HealthUnhealthy: pterm.FgRed,
	}
}

// Plain returns a theme without any styling, for NO_COLOR environments.
func Plain() *Theme {
	none := pterm.NewStyle()
	return &Theme{
		Debug: none, Info: none, Warn: none, Error: none,
		Muted: none, Endpoint: none, Provider: none,
		Counts:          pterm.FgDefault,
		HealthHealthy:   pterm.FgDefault,
		HealthUnhealthy: pterm.FgDefault,
	}
}

// GetTheme resolves a theme by name, falling back to the default.
func GetTheme(name string) *Theme {
	switch strings.ToLower(name) {
	case "plain", "none":
		return Plain()
	default:
		return Default()
	}
}
