package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rileyhilliard/gpueye/internal/doctor"
)

// RenderChecks renders doctor results grouped by category, in the order
// categories first appear.
func RenderChecks(results []doctor.CheckResult) string {
	if len(results) == 0 {
		return "No checks to display"
	}

	successStyle := lipgloss.NewStyle().Foreground(ColorSuccess)
	errorStyle := lipgloss.NewStyle().Foreground(ColorError)
	warnStyle := lipgloss.NewStyle().Foreground(ColorWarning)
	mutedStyle := lipgloss.NewStyle().Foreground(ColorMuted)
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)

	categories := make(map[string][]doctor.CheckResult)
	var order []string
	for _, r := range results {
		if _, exists := categories[r.Category]; !exists {
			order = append(order, r.Category)
		}
		categories[r.Category] = append(categories[r.Category], r)
	}

	var out strings.Builder
	for _, cat := range order {
		out.WriteString(headerStyle.Render(cat) + "\n")

		for _, r := range categories[cat] {
			var icon string
			switch r.Status {
			case doctor.StatusPass:
				icon = successStyle.Render(SymbolUp)
			case doctor.StatusWarn:
				icon = warnStyle.Render(SymbolUp)
			case doctor.StatusFail:
				icon = errorStyle.Render(SymbolDown)
			default:
				icon = mutedStyle.Render(SymbolPending)
			}

			out.WriteString("  " + icon + " " + r.Message + "\n")
			if r.Suggestion != "" && r.Status != doctor.StatusPass {
				out.WriteString("    " + mutedStyle.Render(r.Suggestion) + "\n")
			}
		}
		out.WriteString("\n")
	}

	out.WriteString(doctor.Summary(results) + "\n")
	return out.String()
}
