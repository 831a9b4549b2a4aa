// Package status builds the display tuple a status view renders per
// operation (component C11): a phase label, a semantic color, and a merge
// icon, folding in the merge-queue entry's status and a single shared
// session-liveness check rather than one tmux call per operation.
package status

import "github.com/charmbracelet/lipgloss"

// Semantic colors, the Ayu-theme adaptive palette: every display state
// gets one of these; held, cancelled and unrecognised phases use colorMuted.
var (
	colorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	colorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

const (
	iconMerged    = "✓"
	iconConflict  = "✖"
	iconQueued    = "…"
	iconNone      = ""
	iconBlocked   = "⛔"
	iconHeld      = "⏸"
)
