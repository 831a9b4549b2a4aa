package session

import (
	"os"

	"golang.org/x/term"
)

// IsInteractive reports whether standard output is attached to a terminal,
// the signal the status projection uses to decide between styled and
// plain-text rendering.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
