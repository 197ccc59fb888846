package ui

// Unicode symbols for host status indicators.
const (
	SymbolUp      = "●" // Last poll succeeded
	SymbolDown    = "✗" // Last poll failed
	SymbolPending = "○" // Not polled yet
	SymbolIdle    = "◌" // Connected, no GPUs reported
)
