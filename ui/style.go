package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"modcatalog/db"
)

// statusColors maps each status to an ANSI color.
var statusColors = map[db.Status]string{
	db.StatusPrivate:    "8",  // Grey
	db.StatusUnverified: "11", // Yellow
	db.StatusVerified:   "10", // Green
	db.StatusRemoved:    "9",  // Red
}

// Colorize applies the given ANSI color to the text using lipgloss.
func Colorize(text string, color string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(text)
}

// StatusColor returns the color used for status, white when unknown.
func StatusColor(status db.Status) string {
	if c, ok := statusColors[status]; ok {
		return c
	}
	return "7"
}

// Status renders status padded to width before coloring it, so columns
// stay aligned despite the escape codes.
func Status(status db.Status, width int) string {
	return Colorize(fmt.Sprintf("%-*s", width, status), StatusColor(status))
}

// Decision renders a proposal decision.
func Decision(d db.Decision) string {
	switch d := d.(type) {
	case db.Approved:
		return Colorize(fmt.Sprintf("approved by %d", d.By), "10")
	case db.Denied:
		return Colorize(fmt.Sprintf("denied by %d", d.By), "9")
	default:
		return Colorize("pending", "11")
	}
}
