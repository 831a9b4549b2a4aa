// Package depgraph implements the dependency graph (component C5):
// blocker lookups against the issue tracker, and unblocking/resuming
// dependents once an operation merges.
package depgraph

import (
	"fmt"

	"github.com/foreman-run/foreman/internal/operation"
	"github.com/foreman-run/foreman/internal/tracker"
)

// Resumer is the external "lifecycle driver" depgraph invokes to resume a
// dependent operation in the background once its blocker clears. In the
// fm command it is satisfied by cmdline's background resumer.
type Resumer interface {
	ResumeInBackground(operationName string) error
}

// TrackerClient is the subset of tracker.Tracker the graph needs, broken
// out so tests can substitute a stub instead of shelling out to wk.
type TrackerClient interface {
	Blockers(epicID string) ([]*tracker.Ticket, error)
	Dependents(epicID string) ([]*tracker.Ticket, error)
	Close(id string) error
}

// Graph evaluates blocker relations for operations rooted in an operation
// store, via a tracker.
type Graph struct {
	ops     *operation.Store
	tracker TrackerClient
}

// New returns a Graph over ops using t to query the issue tracker.
func New(ops *operation.Store, t TrackerClient) *Graph {
	return &Graph{ops: ops, tracker: t}
}

// IsBlocked reports whether op is blocked and, if so, the display name of
// the first open blocker found. An empty string with a nil error means
// not blocked (or op has no epic_id to check).
func (g *Graph) IsBlocked(op *operation.Operation) (string, error) {
	if op.EpicID == "" {
		return "", nil
	}
	blockers, err := g.tracker.Blockers(op.EpicID)
	if err != nil {
		return "", fmt.Errorf("checking blockers for %s: %w", op.Name, err)
	}
	for _, b := range blockers {
		if b.IsOpen() {
			return b.DisplayName(), nil
		}
	}
	return "", nil
}

// eventSink is the minimal sink TriggerDependents writes an unblock record
// to; operation.EventLog satisfies it for a given operation name.
type eventSink interface {
	Append(event, details string)
}

// TriggerDependents asks the tracker for operations blocked by mergedOp's
// epic and resumes each that is not held. eventLogFor resolves the event
// log to write the unblock record to, keyed by the dependent's operation
// name (nil logs are skipped, not fatal).
func (g *Graph) TriggerDependents(mergedOp *operation.Operation, resumer Resumer, eventLogFor func(name string) eventSink) error {
	if mergedOp.EpicID == "" {
		return nil
	}
	dependents, err := g.tracker.Dependents(mergedOp.EpicID)
	if err != nil {
		return fmt.Errorf("finding dependents of %s: %w", mergedOp.Name, err)
	}

	for _, dep := range dependents {
		depOpName := dep.DisplayName()
		depOp, err := g.ops.Read(depOpName)
		if err != nil {
			// The dependent ticket may not correspond to a known operation
			// yet (e.g. still only planned in the tracker); skip silently.
			continue
		}
		if depOp.Held {
			continue
		}
		if err := resumer.ResumeInBackground(depOpName); err != nil {
			return fmt.Errorf("resuming dependent %s: %w", depOpName, err)
		}
		if eventLogFor != nil {
			if log := eventLogFor(depOpName); log != nil {
				log.Append("unblock", fmt.Sprintf("resumed by merge of %s", mergedOp.Name))
			}
		}
	}
	return nil
}

// ReconcileBlockers is the safety net run before resuming an operation
// that still shows open blockers in the tracker: for each blocker whose
// own operation has actually reached merged, the tracker ticket is marked
// done so the next IsBlocked check sees it cleared.
func (g *Graph) ReconcileBlockers(op *operation.Operation) error {
	if op.EpicID == "" {
		return nil
	}
	blockers, err := g.tracker.Blockers(op.EpicID)
	if err != nil {
		return fmt.Errorf("reconciling blockers for %s: %w", op.Name, err)
	}
	for _, b := range blockers {
		if !b.IsOpen() {
			continue
		}
		blockerOp, err := g.ops.Read(b.DisplayName())
		if err != nil {
			continue
		}
		if blockerOp.Phase == operation.PhaseMerged {
			if err := g.tracker.Close(b.ID); err != nil {
				return fmt.Errorf("closing stale blocker %s: %w", b.ID, err)
			}
		}
	}
	return nil
}
