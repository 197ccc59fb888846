package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/rileyhilliard/gpueye/internal/gpu"
	"github.com/rileyhilliard/gpueye/internal/monitor"
	"github.com/rileyhilliard/gpueye/internal/util"
)

// UtilBarWidth is the width of the utilization bar in the snapshot table.
const UtilBarWidth = 10

var snapshotHeaders = []string{"HOST", "GPU", "MODEL", "UTIL", "MEMORY", "TEMP", "POWER", "UPDATED"}

// Columns rendered muted.
const (
	colGPU    = 1
	colMemory = 4
)

// RenderSnapshot renders every host as one row per GPU. Hosts without
// readings get a single row carrying their status instead.
func RenderSnapshot(snap monitor.Snapshot, now time.Time) string {
	if len(snap.Hosts) == 0 {
		return "No hosts configured"
	}

	mutedStyle := lipgloss.NewStyle().Foreground(ColorMuted)

	var rows [][]string
	for _, h := range snap.Hosts {
		rows = append(rows, hostRows(h, now)...)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		BorderColumn(false).
		BorderRow(false).
		Headers(snapshotHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Bold(true).Foreground(ColorPrimary)
			}
			if col == colGPU || col == colMemory {
				return style.Foreground(ColorMuted)
			}
			return style
		})

	var out strings.Builder
	out.WriteString(RenderSummary(snap, now))
	out.WriteString("\n")
	out.WriteString(t.String())
	out.WriteString("\n")
	return out.String()
}

// RenderSummary renders the one-line fleet summary shown above the table.
func RenderSummary(snap monitor.Snapshot, now time.Time) string {
	mutedStyle := lipgloss.NewStyle().Foreground(ColorMuted)

	up := snap.ConnectedCount()
	upStyle := lipgloss.NewStyle().Foreground(ColorSuccess)
	if up < len(snap.Hosts) {
		upStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	}
	if up == 0 && len(snap.Hosts) > 0 {
		upStyle = lipgloss.NewStyle().Foreground(ColorError)
	}

	parts := []string{
		upStyle.Render(fmt.Sprintf("%d/%d hosts up", up, len(snap.Hosts))),
		fmt.Sprintf("%d %s", snap.GPUCount(), util.Pluralize(snap.GPUCount(), "GPU", "GPUs")),
	}
	if !snap.LastCycle.IsZero() {
		parts = append(parts, mutedStyle.Render("cycle "+FormatAge(snap.LastCycle, now)))
	}
	if snap.Running && snap.Interval > 0 {
		parts = append(parts, mutedStyle.Render("every "+snap.Interval.String()))
	}
	return strings.Join(parts, mutedStyle.Render(" · "))
}

func hostRows(h monitor.HostStatus, now time.Time) [][]string {
	updated := FormatAge(h.LastUpdate, now)
	name := h.Host.DisplayName()

	if !h.HasGPUs() {
		return [][]string{{
			statusSymbol(h) + " " + name,
			"-",
			hostDetail(h),
			"", "", "", "",
			updated,
		}}
	}

	rows := make([][]string, 0, len(h.GPUs))
	for i, r := range h.GPUs {
		hostCell := ""
		if i == 0 {
			hostCell = statusSymbol(h) + " " + name
		}
		rows = append(rows, gpuRow(hostCell, r, updated))
		updated = ""
	}
	return rows
}

func gpuRow(hostCell string, r gpu.Reading, updated string) []string {
	tempStyle := lipgloss.NewStyle().Foreground(temperatureColor(r.Temperature))
	return []string{
		hostCell,
		fmt.Sprintf("%d", r.Index),
		r.Name,
		RenderProgressBar(float64(r.GPUUtilization), UtilBarWidth),
		r.FormattedMemory(),
		tempStyle.Render(fmt.Sprintf("%d°C", r.Temperature)),
		fmt.Sprintf("%.0f / %.0f W", r.PowerDraw, r.PowerLimit),
		updated,
	}
}

// statusSymbol picks the colored indicator for a host.
func statusSymbol(h monitor.HostStatus) string {
	switch {
	case h.Connected && h.HasGPUs():
		return lipgloss.NewStyle().Foreground(ColorSuccess).Render(SymbolUp)
	case h.Connected:
		return lipgloss.NewStyle().Foreground(ColorWarning).Render(SymbolIdle)
	case h.Error != "":
		return lipgloss.NewStyle().Foreground(ColorError).Render(SymbolDown)
	default:
		return lipgloss.NewStyle().Foreground(ColorMuted).Render(SymbolPending)
	}
}

// hostDetail describes a host that has no readings to show.
func hostDetail(h monitor.HostStatus) string {
	switch {
	case h.Error != "":
		return lipgloss.NewStyle().Foreground(ColorError).Render(h.Error)
	case h.Connected:
		return "no GPUs reported"
	default:
		return lipgloss.NewStyle().Foreground(ColorMuted).Render("waiting for first poll")
	}
}

// FormatAge renders how long ago t was, e.g. "12s ago". Zero times render
// as "never".
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}
