package status

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/foreman-run/foreman/internal/mergequeue"
	"github.com/foreman-run/foreman/internal/operation"
)

// DisplayPhase is the phase/held/queue-status fold a view renders, distinct
// from operation.Phase where the raw phase alone would be ambiguous (e.g.
// "completed" covers both "about to be picked up" and "waiting on other
// open plan issues").
type DisplayPhase string

const (
	DisplayPlanning     DisplayPhase = "planning"
	DisplayQueued       DisplayPhase = "queued"
	DisplayBlocked      DisplayPhase = "blocked"
	DisplayHeld         DisplayPhase = "held"
	DisplayExecuting    DisplayPhase = "executing"
	DisplayWaitingWork  DisplayPhase = "waiting_on_issues"
	DisplayPendingMerge DisplayPhase = "pending_merge"
	DisplayConflict     DisplayPhase = "conflict"
	DisplayMerged       DisplayPhase = "merged"
	DisplayFailed       DisplayPhase = "failed"
	DisplayCancelled    DisplayPhase = "cancelled"
	DisplayInterrupted  DisplayPhase = "interrupted"
)

// View is the display tuple for one operation: a label, a color, a merge
// icon, plus the blocker/session facts a renderer needs without a second
// round of lookups.
type View struct {
	Operation     string
	DisplayPhase  DisplayPhase
	Color         lipgloss.TerminalColor
	MergeIcon     string
	SessionActive bool
	QueueStatus   mergequeue.Status
	Blockers      []string
}

// Builder assembles Views from the three sources the projection folds: the
// operation store's phase/held bits, the merge queue's per-entry status,
// and a single shared session-liveness snapshot.
type Builder struct {
	queueByOp map[string]*mergequeue.Entry
	sessions  map[string]bool
	blockers  *BlockerCache
}

// NewBuilder snapshots queueEntries and sessions once; reuse the returned
// Builder for every operation in one render pass.
func NewBuilder(queueEntries []*mergequeue.Entry, sessions map[string]bool, blockers *BlockerCache) *Builder {
	byOp := make(map[string]*mergequeue.Entry, len(queueEntries))
	for _, e := range queueEntries {
		byOp[e.Operation] = e
	}
	if sessions == nil {
		sessions = map[string]bool{}
	}
	return &Builder{queueByOp: byOp, sessions: sessions, blockers: blockers}
}

// View builds the display tuple for op.
func (b *Builder) View(op *operation.Operation) View {
	entry := b.queueByOp[op.Name]
	sessionActive := op.SessionName != "" && b.sessions[op.SessionName]

	phase, color, icon := classify(op, entry)

	var blockerIDs []string
	if b.blockers != nil && op.EpicID != "" {
		for _, t := range b.blockers.Blockers(op.EpicID) {
			blockerIDs = append(blockerIDs, t.DisplayName())
		}
	}

	v := View{
		Operation:     op.Name,
		DisplayPhase:  phase,
		Color:         color,
		MergeIcon:     icon,
		SessionActive: sessionActive,
		Blockers:      blockerIDs,
	}
	if entry != nil {
		v.QueueStatus = entry.Status
	}
	return v
}

func classify(op *operation.Operation, entry *mergequeue.Entry) (DisplayPhase, lipgloss.TerminalColor, string) {
	if op.Held && !op.Phase.IsTerminal() {
		return DisplayHeld, colorMuted, iconHeld
	}

	switch op.Phase {
	case operation.PhaseInit, operation.PhasePlanned:
		return DisplayPlanning, colorAccent, iconNone
	case operation.PhaseBlocked:
		return DisplayBlocked, colorWarn, iconBlocked
	case operation.PhaseQueued:
		return DisplayQueued, colorAccent, iconQueued
	case operation.PhaseExecuting:
		return DisplayExecuting, colorAccent, iconNone
	case operation.PhaseInterrupted:
		return DisplayInterrupted, colorWarn, iconNone
	case operation.PhaseCompleted:
		if entry != nil && entry.Status == mergequeue.StatusResumed {
			return DisplayWaitingWork, colorWarn, iconNone
		}
		return DisplayPendingMerge, colorAccent, iconQueued
	case operation.PhasePendingMerge:
		if entry != nil {
			switch entry.Status {
			case mergequeue.StatusProcessing:
				return DisplayPendingMerge, colorAccent, iconQueued
			case mergequeue.StatusResumed:
				return DisplayWaitingWork, colorWarn, iconNone
			}
		}
		return DisplayPendingMerge, colorAccent, iconQueued
	case operation.PhaseConflict:
		return DisplayConflict, colorFail, iconConflict
	case operation.PhaseMerged:
		return DisplayMerged, colorPass, iconMerged
	case operation.PhaseFailed:
		return DisplayFailed, colorFail, iconConflict
	case operation.PhaseCancelled:
		return DisplayCancelled, colorMuted, iconNone
	default:
		return DisplayPhase(op.Phase), colorMuted, iconNone
	}
}
