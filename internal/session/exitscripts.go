// Package session implements the session exit contract (component C10):
// the done/incomplete scripts published into an agent's working directory,
// and the stop-hook decision function consulted before the runtime lets
// the agent's process exit.
package session

import (
	"fmt"
	"os"
	"path/filepath"
)

const scriptMode = 0o755

// doneScript touches a marker file and signals the agent process to exit
// cleanly. $PPID is the shell's parent, the agent process that launched
// it as a subshell.
const doneScript = `#!/bin/sh
# Published by the core for an agent session to signal successful exit.
set -e
touch "$(dirname "$0")/.done-exit"
kill -TERM "$PPID"
`

// incompleteScript records diagnostic context and a tracker note before
// terminating, for an agent that cannot finish and wants to be resumed.
const incompleteScript = `#!/bin/sh
# Published by the core for an agent session to signal it could not finish.
set -e
dir="$(dirname "$0")"
{
  echo "incomplete at $(date -u +%Y-%m-%dT%H:%M:%SZ)"
  echo "reason: ${1:-unspecified}"
} >> "$dir/.incomplete-log"
if [ -n "$FOREMAN_ISSUE_ID" ]; then
  wk note "$FOREMAN_ISSUE_ID" "incomplete: ${1:-unspecified}" || true
fi
kill -TERM "$PPID"
`

// WriteExitScripts publishes done and incomplete into dir, creating it if
// needed.
func WriteExitScripts(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating session directory %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "done"), []byte(doneScript), scriptMode); err != nil {
		return fmt.Errorf("writing done script: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "incomplete"), []byte(incompleteScript), scriptMode); err != nil {
		return fmt.Errorf("writing incomplete script: %w", err)
	}
	return nil
}

// DoneMarkerExists reports whether the done script's .done-exit marker is
// present in dir — the supervisor's signal that the session exited clean.
func DoneMarkerExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".done-exit"))
	return err == nil
}

// ErrorFlagPath is the wrapper-script error marker path within dir (set on
// non-zero exit, per the session wrapper contract).
func ErrorFlagPath(dir string) string {
	return filepath.Join(dir, ".worker-error")
}

// ErrorFlagExists reports whether the session wrapper left an error flag.
func ErrorFlagExists(dir string) bool {
	_, err := os.Stat(ErrorFlagPath(dir))
	return err == nil
}

// ClearExitMarkers removes .done-exit and .worker-error ahead of a relaunch.
func ClearExitMarkers(dir string) {
	_ = os.Remove(filepath.Join(dir, ".done-exit"))
	_ = os.Remove(ErrorFlagPath(dir))
}
