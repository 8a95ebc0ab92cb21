// Package ui provides the terminal styling shared by shogun-ops's
// subcommands, the way the teacher's internal/ui/table.go defines one
// lipgloss style set reused across its render helpers rather than letting
// every command hand-roll its own colors.
package ui

import "github.com/charmbracelet/lipgloss"

// Colors, adaptive to light/dark terminal backgrounds like the teacher's
// palette.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#6124DF", Dark: "#9B7EF2"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#A35200", Dark: "#F5A524"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
)

var (
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle    = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle    = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	AccentStyle  = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
)

// Success renders s in the pass color when color is enabled, plain text
// otherwise (redirected stdout, CI logs).
func Success(enabled bool, s string) string { return render(enabled, SuccessStyle, s) }

// Warn renders s in the warn color.
func Warn(enabled bool, s string) string { return render(enabled, WarnStyle, s) }

// Fail renders s in the fail color, bold.
func Fail(enabled bool, s string) string { return render(enabled, FailStyle, s) }

// Accent renders s in the accent color, bold.
func Accent(enabled bool, s string) string { return render(enabled, AccentStyle, s) }

// Muted renders s in the muted color.
func Muted(enabled bool, s string) string { return render(enabled, MutedStyle, s) }

func render(enabled bool, style lipgloss.Style, s string) string {
	if !enabled {
		return s
	}
	return style.Render(s)
}
