// Package ui holds the terminal rendering helpers shared by the CLI:
// pass/warn/fail glyph lines, dim/bold text, and state coloring.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	boldStyle  = lipgloss.NewStyle().Bold(true)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

// init pins the color profile before any style renders, honoring NO_COLOR
// and CLICOLOR for users piping output into files.
func init() {
	if termenv.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// Pass renders a line behind a green check.
func Pass(format string, a ...any) string {
	return okStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

// Warn renders a line behind an amber bang.
func Warn(format string, a ...any) string {
	return warnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

// Fail renders a line behind a red cross.
func Fail(format string, a ...any) string {
	return failStyle.Render("✗") + " " + fmt.Sprintf(format, a...)
}

// Bullet renders a list item.
func Bullet(format string, a ...any) string {
	return dimStyle.Render("•") + " " + fmt.Sprintf(format, a...)
}

// Dim renders de-emphasized text.
func Dim(s string) string { return dimStyle.Render(s) }

// Bold renders emphasized text.
func Bold(s string) string { return boldStyle.Render(s) }

// Title renders a section heading.
func Title(s string) string { return titleStyle.Render(s) }

// KV renders a dim "key:" followed by the value.
func KV(key, value string) string {
	return dimStyle.Render(key+":") + " " + value
}

// State colors a state name by its severity: settled states read as
// healthy, failure states as red, everything in between as in-progress.
// Covers both engine states (idle, hydrating, syncing, error) and queue
// entry statuses (pending, inflight, failed, rejected).
func State(s string) string {
	switch s {
	case "idle", "synced":
		return okStyle.Render(s)
	case "error", "failed", "rejected":
		return failStyle.Render(s)
	default:
		return warnStyle.Render(s)
	}
}
