// Package readiness implements the merge-readiness and staleness checks
// (component C6): is_merge_ready and is_stale, both pure decision
// functions over cheap-first checks against operation state, session
// activity, and the issue tracker.
package readiness

import (
	"errors"
	"fmt"
	"os"

	"github.com/foreman-run/foreman/internal/operation"
	"github.com/foreman-run/foreman/internal/tracker"
)

// SessionProbe answers whether the named session is currently active, a
// single shared "list sessions" lookup per poll cycle in the real daemon.
type SessionProbe interface {
	IsActive(sessionName string) bool
}

// BranchProbe answers whether branch exists on remote, distinguishing a
// genuine "no such ref" from a lookup failure (network error etc).
type BranchProbe interface {
	RemoteBranchExists(remote, branch string) (bool, error)
}

// Result is the outcome of an is_merge_ready check.
type Result struct {
	Ready  bool
	Reason string // diagnostic reason, e.g. "phase:queued", "worktree:missing"
}

// TrackerClient is the subset of tracker.Tracker the evaluator needs.
type TrackerClient interface {
	ListByLabel(label, status string) ([]*tracker.Ticket, error)
}

// Evaluator decides readiness and staleness for operations.
type Evaluator struct {
	ops      *operation.Store
	tracker  TrackerClient
	sessions SessionProbe
	branches BranchProbe
	remote   string
}

// New returns an Evaluator wired to the given collaborators. remote is the
// git remote name (e.g. "origin") used for branch staleness checks.
func New(ops *operation.Store, t TrackerClient, sessions SessionProbe, branches BranchProbe, remote string) *Evaluator {
	return &Evaluator{ops: ops, tracker: t, sessions: sessions, branches: branches, remote: remote}
}

// IsMergeReady runs the cheap-first checks from spec §4.6 in order,
// stopping at the first failing check.
func (e *Evaluator) IsMergeReady(op *operation.Operation) Result {
	if op.Phase != operation.PhaseCompleted && op.Phase != operation.PhasePendingMerge {
		return Result{Ready: false, Reason: fmt.Sprintf("phase:%s", op.Phase)}
	}

	if !worktreeIsCheckout(op.Worktree) && op.Branch == "" {
		return Result{Ready: false, Reason: "worktree:missing"}
	}

	if op.SessionName != "" && e.sessions != nil && e.sessions.IsActive(op.SessionName) {
		return Result{Ready: false, Reason: "session:active"}
	}

	if op.PlanFile != "" {
		open, err := e.openPlanIssueCount(op.PlanFile)
		if err != nil {
			return Result{Ready: false, Reason: fmt.Sprintf("tracker:%v", err)}
		}
		if open > 0 {
			return Result{Ready: false, Reason: fmt.Sprintf("open_issues:%d", open)}
		}
	}

	return Result{Ready: true}
}

func (e *Evaluator) openPlanIssueCount(planLabel string) (int, error) {
	tickets, err := e.tracker.ListByLabel(planLabel, "")
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range tickets {
		if t.IsOpen() {
			count++
		}
	}
	return count, nil
}

func worktreeIsCheckout(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(path + "/.git")
	return err == nil
}

// ErrStalenessLookupFailed wraps a branch-lookup error that must propagate
// as an error, not be mistaken for staleness.
var ErrStalenessLookupFailed = errors.New("staleness lookup failed")

// StaleReason distinguishes why a queue entry is stale.
type StaleReason string

const (
	StaleNotStale     StaleReason = ""
	StaleAlreadyMerged StaleReason = "already_merged"
	StaleBranchGone   StaleReason = "branch_gone"
)

// IsStale reports whether a queue entry for op is stale: its operation has
// already reached merged, or the entry's branch no longer exists on
// remote. A distinct lookup failure (e.g. network error on the remote
// check) is returned as an error rather than reported as staleness.
func (e *Evaluator) IsStale(op *operation.Operation, branch string) (StaleReason, error) {
	if op.Phase == operation.PhaseMerged {
		return StaleAlreadyMerged, nil
	}
	if branch == "" || e.branches == nil {
		return StaleNotStale, nil
	}
	exists, err := e.branches.RemoteBranchExists(e.remote, branch)
	if err != nil {
		return StaleNotStale, fmt.Errorf("%w: %w", ErrStalenessLookupFailed, err)
	}
	if !exists {
		return StaleBranchGone, nil
	}
	return StaleNotStale, nil
}
