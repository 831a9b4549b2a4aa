// Package fmerrors defines the sentinel error kinds the core raises and
// surfaces distinctly, per the error handling design.
package fmerrors

import "errors"

// Sentinel error kinds. Callers match with errors.Is; wrapped context is
// added with fmt.Errorf("...: %w", Kind) at the raise site.
var (
	// ErrInvalidTransition is raised when a requested phase change is not
	// listed in the transition table.
	ErrInvalidTransition = errors.New("invalid_transition")

	// ErrHeld is raised when a transition is suppressed because the
	// operation is held.
	ErrHeld = errors.New("held")

	// ErrLockContention is raised when a lock could not be acquired within
	// the retry budget.
	ErrLockContention = errors.New("lock_contention")

	// ErrCorrupt is raised when a state or queue document fails to parse.
	// It is fatal for the containing operation; callers must surface it.
	ErrCorrupt = errors.New("corrupt")

	// ErrWorkspace is raised when the shared checkout is missing, on the
	// wrong branch, or has uncommitted changes that cannot be cleaned.
	ErrWorkspace = errors.New("workspace")

	// ErrRefMissing is raised when an expected branch or commit does not
	// exist locally or remotely.
	ErrRefMissing = errors.New("ref_missing")

	// ErrMergeConflict is raised when a conflict is detected before or
	// during merge and is not resolvable by the conflict session.
	ErrMergeConflict = errors.New("merge_conflict")

	// ErrPushFailed is raised when the remote rejects a push after retries.
	ErrPushFailed = errors.New("push_failed")

	// ErrVerifyFailed is raised when a pushed commit is not observable on
	// the remote after retries.
	ErrVerifyFailed = errors.New("verify_failed")

	// ErrAgentCrash is raised when a session exits abnormally without the
	// done signal.
	ErrAgentCrash = errors.New("agent_crash")

	// ErrNoProgress names the two-consecutive-no-progress-crash condition.
	// The supervisor does not return it; it stops auto-relaunch and logs
	// supervisor_stopped instead.
	ErrNoProgress = errors.New("no_progress")

	// ErrStaleEntry is raised internally when a queue entry refers to work
	// already merged or a branch that has vanished. Recovered
	// automatically by the daemon's cleanup pass.
	ErrStaleEntry = errors.New("stale_entry")

	// ErrTracker is raised when an issue-tracker call fails; the failing
	// sub-call is wrapped alongside it.
	ErrTracker = errors.New("tracker")
)
