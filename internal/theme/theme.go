package theme

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
)

// HeaderStyle is used for assignee headers.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// ProjectStyle is used for project headings inside an assignee group.
var ProjectStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorBlue).
	PaddingLeft(1)

// ItemStyle indents item lines under their project.
var ItemStyle = lipgloss.NewStyle().
	PaddingLeft(3)

// SubtleStyle is used for totals, keys and other secondary text.
var SubtleStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// WarningStyle highlights warnings and failures.
var WarningStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorRed)

// OKStyle marks present tiers and successful syncs.
var OKStyle = lipgloss.NewStyle().
	Foreground(ColorGreen)

// StatusStyle returns a color-coded style for a tracker status name.
func StatusStyle(status string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	s := strings.ToLower(status)
	switch {
	case strings.Contains(s, "review"):
		return base.Foreground(ColorMagenta)
	case strings.Contains(s, "progress"):
		return base.Foreground(ColorYellow)
	case s == "closed" || s == "done" || s == "resolved":
		return base.Foreground(ColorGreen)
	case s == "open" || s == "to do" || s == "todo" || s == "backlog":
		return base.Foreground(ColorBlue)
	default:
		return base.Foreground(ColorGray)
	}
}
