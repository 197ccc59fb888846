// Package ui renders gpueye's terminal output with Lip Gloss.
//
// # Snapshot Table
//
// RenderSnapshot draws one row per GPU, grouped by host, under a one-line
// fleet summary:
//
//	3/4 hosts up · 16 GPUs · cycle 2s ago · every 5s
//	HOST        GPU  MODEL      UTIL                MEMORY           TEMP  POWER       UPDATED
//	● dgx-01    0    H100 SXM   ████████░░  80%    70.2 / 80.0 GB   64°C  612 / 700 W  2s ago
//
// Hosts with no readings get a single row showing their error, "no GPUs
// reported" or "waiting for first poll".
//
// # Color Scheme
//
// Colors are ANSI codes for broad terminal compatibility:
//
//	ColorSuccess   (green)  - Connected hosts, cool GPUs, low utilization
//	ColorError     (red)    - Failed hosts, hot GPUs, utilization >= 80%
//	ColorWarning   (yellow) - Warm GPUs, utilization >= 60%
//	ColorMuted     (gray)   - Secondary text, timing info
//
// ConfigureColor applies the output.color setting ("auto", "always",
// "never"). Auto mode checks for a TTY with golang.org/x/term and honors
// NO_COLOR.
//
// # Symbols
//
//	SymbolUp      (filled)  - Last poll succeeded
//	SymbolIdle    (dotted)  - Connected but no GPUs reported
//	SymbolDown    (X)       - Last poll failed
//	SymbolPending (circle)  - Not polled yet
package ui
