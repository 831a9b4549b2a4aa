package session

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/foreman-run/foreman/internal/tracker"
)

// StopHookInput is the JSON document the agent runtime writes to the stop
// hook's standard input before letting an agent's process exit.
type StopHookInput struct {
	StopHookActive bool   `json:"stop_hook_active"`
	Reason         string `json:"reason"`
}

// StopHookDecision is the JSON document the stop hook writes to standard
// output.
type StopHookDecision struct {
	Decision string `json:"decision"` // "approve" or "block"
	Reason   string `json:"reason,omitempty"`
}

func approve() StopHookDecision { return StopHookDecision{Decision: "approve"} }

func block(reason string) StopHookDecision {
	return StopHookDecision{Decision: "block", Reason: reason}
}

// stopReasonAllowlist are substrings of Reason that always approve: the
// agent stopped for an account/billing condition it cannot resolve by
// continuing to run.
var stopReasonAllowlist = []string{
	"auth", "login", "credential", "credit", "subscription", "billing", "payment",
}

func matchesAllowlistedReason(reason string) bool {
	lower := strings.ToLower(reason)
	for _, s := range stopReasonAllowlist {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// IssueLister is the subset of tracker.Tracker the stop hook needs to
// check for open work still attached to the plan label.
type IssueLister interface {
	ListByLabel(label, status string) ([]*tracker.Ticket, error)
}

// TreeChecker answers whether the session's worktree has uncommitted
// tracked changes.
type TreeChecker interface {
	HasUncommittedTrackedChanges() (bool, error)
}

// Decide evaluates the stop-hook rules from spec §4.10 in order. If
// noteWithoutFixIssue is non-empty, the "note-without-fix" handoff already
// applied to that issue (reassigned to worker:human, logged elsewhere) and
// the open-issues check is skipped entirely, so open plan issues do not
// block the exit; the uncommitted-changes check still applies.
func Decide(input StopHookInput, planLabel string, issues IssueLister, tree TreeChecker, noteWithoutFixIssue string) StopHookDecision {
	if input.StopHookActive {
		return approve()
	}
	if matchesAllowlistedReason(input.Reason) {
		return approve()
	}

	if noteWithoutFixIssue == "" && planLabel != "" && issues != nil {
		open, err := openIssueIDs(issues, planLabel)
		if err == nil && len(open) > 0 {
			return block("open issues for this plan: " + strings.Join(open, ", "))
		}
	}

	if tree != nil {
		dirty, err := tree.HasUncommittedTrackedChanges()
		if err == nil && dirty {
			return block("uncommitted changes in worktree: commit and push before stopping")
		}
	}

	return approve()
}

func openIssueIDs(issues IssueLister, planLabel string) ([]string, error) {
	tickets, err := issues.ListByLabel(planLabel, "")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, t := range tickets {
		if t.IsOpen() {
			ids = append(ids, t.ID)
			if len(ids) == 3 {
				break
			}
		}
	}
	return ids, nil
}

// ReadInput decodes a StopHookInput from r (standard input in practice).
func ReadInput(r io.Reader) (StopHookInput, error) {
	var input StopHookInput
	err := json.NewDecoder(r).Decode(&input)
	return input, err
}

// WriteDecision encodes d to w (standard output in practice).
func WriteDecision(w io.Writer, d StopHookDecision) error {
	return json.NewEncoder(w).Encode(d)
}
