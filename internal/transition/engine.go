// Package transition implements the operation lifecycle state machine
// (component C4): a single transition(op, to) entry point that validates
// and applies phase changes, enforcing the invariants in spec §3/§4.4/§8.
//
// Predicates over state snapshots (is_held, resume target selection) are
// pure functions; the only effect here is the atomic document update and
// its event-log line. Spawning, fetching, and pushing belong to other
// packages (worker, mergequeue, gitops) that call into this engine once
// their own effects have already happened.
package transition

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/foreman-run/foreman/internal/fmerrors"
	"github.com/foreman-run/foreman/internal/operation"
)

// predecessors lists, for each target phase, the phases a transition into
// it may legally originate from. Built directly from the table in spec
// §4.4; engine_test.go exercises a legal path and selected rejections, not
// every entry of the table.
var predecessors = map[operation.Phase][]operation.Phase{
	operation.PhasePlanned: {
		operation.PhaseInit, operation.PhaseFailed, operation.PhaseInterrupted, operation.PhaseBlocked,
	},
	operation.PhaseBlocked: {operation.PhaseInit, operation.PhasePlanned},
	operation.PhaseFailed: {
		operation.PhaseInit, operation.PhasePlanned, operation.PhaseQueued,
		operation.PhaseExecuting, operation.PhaseCompleted, operation.PhasePendingMerge,
		operation.PhaseConflict,
	},
	operation.PhaseCancelled: {
		operation.PhaseInit, operation.PhasePlanned, operation.PhaseQueued, operation.PhaseExecuting,
	},
	operation.PhaseQueued:       {operation.PhasePlanned, operation.PhaseBlocked, operation.PhaseFailed, operation.PhaseInterrupted},
	operation.PhaseExecuting:    {operation.PhaseQueued},
	operation.PhaseCompleted:    {operation.PhaseExecuting},
	operation.PhasePendingMerge: {operation.PhaseCompleted, operation.PhaseConflict},
	operation.PhaseMerged:       {operation.PhaseCompleted, operation.PhasePendingMerge},
	operation.PhaseConflict:     {operation.PhasePendingMerge},
	operation.PhaseInit:         {operation.PhaseFailed, operation.PhaseInterrupted},
	operation.PhaseInterrupted:  {operation.PhaseExecuting},
}

// heldExceptions are the targets a held operation may still transition
// into: failed and cancelled always make sense regardless of hold (they
// end the operation), and merged is allowed because a merge that reaches
// its terminal step was already initiated by the daemon before the hold
// took effect — the hold stops new work from being *started*, not a merge
// already in flight from completing. (Resolves the §9 open question on
// "merged as a result of already-initiated merge".)
var heldExceptions = map[operation.Phase]bool{
	operation.PhaseFailed:    true,
	operation.PhaseCancelled: true,
	operation.PhaseMerged:    true,
}

// Options carries the phase-specific fields a transition may need to set.
type Options struct {
	MergeCommit   string
	FailureReason string
	// WorktreeExists overrides the on-disk worktree check, primarily for
	// tests. If nil, the engine stats Operation.Worktree directly.
	WorktreeExists func(path string) bool
}

func defaultWorktreeExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Engine applies validated transitions to operations in a named store,
// writing one event-log line per transition.
type Engine struct {
	store *operation.Store
	logs  func(name string) *operation.EventLog
}

// NewEngine returns an Engine backed by store, using logFn to obtain the
// event log for a given operation name (so callers can share or cache
// EventLog handles across calls).
func NewEngine(store *operation.Store, logFn func(name string) *operation.EventLog) *Engine {
	return &Engine{store: store, logs: logFn}
}

// Transition validates and applies a phase change. It is the single entry
// point for every phase change in the system; nothing else is permitted to
// write Operation.Phase.
func (e *Engine) Transition(name string, to operation.Phase, opts Options) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: unknown target phase %q", fmerrors.ErrInvalidTransition, to)
	}

	op, err := e.store.Read(name)
	if err != nil {
		return err
	}

	if err := precondition(op, to); err != nil {
		return err
	}

	if op.Held && !heldExceptions[to] {
		return fmt.Errorf("transition %s -> %s: %w", op.Phase, to, fmerrors.ErrHeld)
	}

	if err := postconditionCheck(op, to, opts); err != nil {
		return err
	}

	from := op.Phase
	err = e.store.UpdateFields(name, func(doc map[string]any) error {
		now := time.Now().UTC().Format(time.RFC3339)
		doc["phase"] = string(to)
		doc["updated_at"] = now
		applyPhaseFields(doc, to, now, opts)
		return nil
	})
	if err != nil {
		return err
	}

	if log := e.logFor(name); log != nil {
		log.Append("transition", fmt.Sprintf("%s -> %s", from, to))
	}
	return nil
}

func (e *Engine) logFor(name string) *operation.EventLog {
	if e.logs == nil {
		return nil
	}
	return e.logs(name)
}

// precondition checks invariant: current phase must be a legal predecessor
// of the requested target.
func precondition(op *operation.Operation, to operation.Phase) error {
	if op.Phase.IsTerminal() {
		return fmt.Errorf("transition from terminal phase %s to %s: %w", op.Phase, to, fmerrors.ErrInvalidTransition)
	}
	for _, from := range predecessors[to] {
		if op.Phase == from {
			return nil
		}
	}
	return fmt.Errorf("transition %s -> %s: %w", op.Phase, to, fmerrors.ErrInvalidTransition)
}

// postconditionCheck enforces the phase-specific preconditions spec §4.4
// calls "post-invariants", checked before commit so a failed check never
// leaves a partially-applied transition.
func postconditionCheck(op *operation.Operation, to operation.Phase, opts Options) error {
	switch to {
	case operation.PhaseMerged:
		if opts.MergeCommit == "" {
			return errors.New("transition to merged requires a merge commit")
		}
	case operation.PhasePendingMerge:
		exists := opts.WorktreeExists
		if exists == nil {
			exists = defaultWorktreeExists
		}
		if !exists(op.Worktree) && op.Branch == "" {
			return fmt.Errorf("transition to pending_merge: %w: no worktree or resolvable branch", fmerrors.ErrWorkspace)
		}
	}
	return nil
}

// applyPhaseFields sets/clears the timestamps and free-text fields that
// spec §4.4 ties to specific target phases.
func applyPhaseFields(doc map[string]any, to operation.Phase, now string, opts Options) {
	switch to {
	case operation.PhaseCompleted:
		doc["completed_at"] = now
	case operation.PhaseMerged:
		doc["merged_at"] = now
		doc["merge_commit"] = opts.MergeCommit
		delete(doc, "failure_reason")
	case operation.PhaseFailed:
		if opts.FailureReason != "" {
			doc["failure_reason"] = opts.FailureReason
		}
	case operation.PhaseInit, operation.PhasePlanned, operation.PhaseQueued:
		// Resume targets clear any stale failure reason (resume policy).
		delete(doc, "failure_reason")
	}
}

// Hold sets held=true and held_at=now. It never changes phase. Idempotent:
// a second call is a no-op write of the same fields.
func (e *Engine) Hold(name string) error {
	return e.store.UpdateFields(name, func(doc map[string]any) error {
		if already, _ := doc["held"].(bool); already {
			return nil
		}
		doc["held"] = true
		doc["held_at"] = time.Now().UTC().Format(time.RFC3339)
		return nil
	})
}

// ResumeHold clears held without changing phase or spawning anything; the
// next poll of whatever was gated on Held picks the operation back up.
func (e *Engine) ResumeHold(name string) error {
	return e.store.UpdateFields(name, func(doc map[string]any) error {
		doc["held"] = false
		return nil
	})
}

// ResumeTarget derives the phase a failed/interrupted/cancelled operation
// should resume into, per the §4.4 resume policy: queued if epic_id is
// set, else planned if a plan file exists, else init.
func ResumeTarget(op *operation.Operation) operation.Phase {
	if op.EpicID != "" {
		return operation.PhaseQueued
	}
	if op.PlanFile != "" {
		return operation.PhasePlanned
	}
	return operation.PhaseInit
}

// Resume transitions a failed or interrupted operation to its derived
// resume target, clearing failure_reason.
func (e *Engine) Resume(name string) error {
	op, err := e.store.Read(name)
	if err != nil {
		return err
	}
	if op.Phase != operation.PhaseFailed && op.Phase != operation.PhaseInterrupted {
		return fmt.Errorf("resume is only valid from failed or interrupted, operation is %s: %w", op.Phase, fmerrors.ErrInvalidTransition)
	}
	return e.Transition(name, ResumeTarget(op), Options{})
}
