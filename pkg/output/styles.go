package output

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// Palette used by the banner, step tables and log levels.
var (
	ColorAmber  = lipgloss.Color("#f59e0b")
	ColorYellow = lipgloss.Color("#eab308")
	ColorWhite  = lipgloss.Color("#fafaf9")
	ColorMuted  = lipgloss.Color("#78716c")
	ColorGreen  = lipgloss.Color("#10b981")
	ColorRed    = lipgloss.Color("#f43f5e")
	ColorGray   = lipgloss.Color("#a8a29e")
)

// statusColors maps step, cache and check states to colors. Anything not
// listed renders gray.
var statusColors = map[string]lipgloss.Color{
	"cached":      ColorGreen,
	"reused":      ColorGreen,
	"pass":        ColorGreen,
	"built":       ColorAmber,
	"installed":   ColorAmber,
	"pending":     ColorAmber,
	"unknown":     ColorYellow,
	"skip":        ColorYellow,
	"no-cache":    ColorYellow,
	"failed":      ColorRed,
	"fail":        ColorRed,
	"invalidated": ColorRed,
}

// statusStyle returns the foreground style for a status value.
func statusStyle(status string) lipgloss.Style {
	c, ok := statusColors[status]
	if !ok {
		c = ColorGray
	}
	return lipgloss.NewStyle().Foreground(c)
}

// levelStyles returns charmbracelet/log styles for build progress output.
func levelStyles() *log.Styles {
	styles := log.DefaultStyles()

	level := func(name string, c lipgloss.Color, bold bool) lipgloss.Style {
		return lipgloss.NewStyle().SetString(name).Foreground(c).Bold(bold)
	}
	styles.Levels[log.InfoLevel] = level("INFO", ColorAmber, true)
	styles.Levels[log.WarnLevel] = level("WARN", ColorYellow, true)
	styles.Levels[log.ErrorLevel] = level("ERROR", ColorRed, true)
	styles.Levels[log.DebugLevel] = level("DEBUG", ColorMuted, false)

	styles.Timestamp = lipgloss.NewStyle().Foreground(ColorMuted)
	// Keys such as step= and image= stand out against their values.
	styles.Key = lipgloss.NewStyle().Foreground(ColorAmber)
	styles.Value = lipgloss.NewStyle().Foreground(ColorGray)

	return styles
}
