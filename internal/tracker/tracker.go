// Package tracker wraps the external issue-tracker CLI ("wk") the core
// consults for blocker relations, plan-issue status, and epic bookkeeping.
// The tracker itself is out of scope; this package only shapes the calls
// spec'd in the issue-tracker contract into typed Go.
package tracker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/foreman-run/foreman/internal/fmerrors"
)

// AssigneeHuman is the sentinel assignee string the core uses to hand a
// ticket back to a person instead of an agent.
const AssigneeHuman = "worker:human"

// Open-state statuses; anything else (closed/done) counts as resolved for
// the purposes of is_merge_ready and is_blocked.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Ticket is the tracker's view of one issue, trimmed to the fields the
// core reads or writes.
type Ticket struct {
	ID        string   `json:"id"`
	Kind      string   `json:"issue_type"`
	Label     string   `json:"label"`
	Title     string   `json:"title"`
	Status    string   `json:"status"`
	Assignee  string   `json:"assignee,omitempty"`
	Blocks    []string `json:"blocks,omitempty"`
	BlockedBy []string `json:"blocked_by,omitempty"`
}

// IsOpen reports whether the ticket still represents outstanding work.
func (t *Ticket) IsOpen() bool {
	return t.Status == StatusTodo || t.Status == StatusInProgress
}

// DisplayName is the label a status view shows for this ticket: its plan
// label if it has one, otherwise its bare id.
func (t *Ticket) DisplayName() string {
	if t.Label != "" {
		return t.Label
	}
	return t.ID
}

// Tracker wraps wk CLI invocations rooted at a working directory.
type Tracker struct {
	workDir string
}

// New returns a Tracker that runs wk with workDir as its working directory.
func New(workDir string) *Tracker {
	return &Tracker{workDir: workDir}
}

func (t *Tracker) run(args ...string) ([]byte, error) {
	cmd := exec.Command("wk", args...)
	cmd.Dir = t.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, t.wrapError(err, stderr.String(), args)
	}
	return stdout.Bytes(), nil
}

func (t *Tracker) wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return fmt.Errorf("wk %s: %w: %w", strings.Join(args, " "), fmerrors.ErrTracker, execErr)
	}
	if stderr != "" {
		return fmt.Errorf("wk %s: %s: %w", strings.Join(args, " "), stderr, fmerrors.ErrTracker)
	}
	return fmt.Errorf("wk %s: %w: %w", strings.Join(args, " "), fmerrors.ErrTracker, err)
}

// Create opens a ticket of the given kind (feature/bug/chore) under label,
// returning its id.
func (t *Tracker) Create(kind, label, title string) (*Ticket, error) {
	args := []string{"create", "--json", "--type=" + kind, "--label=" + label}
	if title != "" {
		args = append(args, "--title="+title)
	}
	out, err := t.run(args...)
	if err != nil {
		return nil, err
	}
	var ticket Ticket
	if err := json.Unmarshal(out, &ticket); err != nil {
		return nil, fmt.Errorf("parsing wk create output: %w: %w", fmerrors.ErrTracker, err)
	}
	return &ticket, nil
}

// ListByLabel lists tickets under label, optionally filtered by status
// ("" means no filter).
func (t *Tracker) ListByLabel(label, status string) ([]*Ticket, error) {
	args := []string{"list", "--json", "--label=" + label}
	if status != "" {
		args = append(args, "--status="+status)
	}
	out, err := t.run(args...)
	if err != nil {
		return nil, err
	}
	var tickets []*Ticket
	if err := json.Unmarshal(out, &tickets); err != nil {
		return nil, fmt.Errorf("parsing wk list output: %w: %w", fmerrors.ErrTracker, err)
	}
	return tickets, nil
}

// Show fetches one ticket, including its blocker/blocks relations.
func (t *Tracker) Show(id string) (*Ticket, error) {
	out, err := t.run("show", id, "--json")
	if err != nil {
		return nil, err
	}
	var ticket Ticket
	if err := json.Unmarshal(out, &ticket); err != nil {
		return nil, fmt.Errorf("parsing wk show output: %w: %w", fmerrors.ErrTracker, err)
	}
	return &ticket, nil
}

// ShowBatch fetches several tickets in one call, the batched form the
// blocker cache (C11) relies on to avoid one round trip per blocker.
func (t *Tracker) ShowBatch(ids []string) ([]*Ticket, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := append([]string{"show", "--json"}, ids...)
	out, err := t.run(args...)
	if err != nil {
		return nil, err
	}
	var tickets []*Ticket
	if err := json.Unmarshal(out, &tickets); err != nil {
		return nil, fmt.Errorf("parsing wk show (batch) output: %w: %w", fmerrors.ErrTracker, err)
	}
	return tickets, nil
}

// Close marks a ticket done.
func (t *Tracker) Close(id string) error {
	_, err := t.run("close", id)
	return err
}

// Reopen returns a closed ticket to todo.
func (t *Tracker) Reopen(id string) error {
	_, err := t.run("reopen", id)
	return err
}

// Transition sets a ticket's status directly (e.g. to in_progress).
func (t *Tracker) Transition(id, status string) error {
	_, err := t.run("update", id, "--status="+status)
	return err
}

// AddNote records a freeform note against a ticket.
func (t *Tracker) AddNote(id, note string) error {
	_, err := t.run("note", id, note)
	return err
}

// SetAssignee sets a ticket's assignee string.
func (t *Tracker) SetAssignee(id, assignee string) error {
	_, err := t.run("update", id, "--assignee="+assignee)
	return err
}

// Blockers returns the open blockers attached to epicID, fetched via
// Show+ShowBatch so callers pay for one round trip to learn the relation
// and a second to resolve the referenced tickets.
func (t *Tracker) Blockers(epicID string) ([]*Ticket, error) {
	epic, err := t.Show(epicID)
	if err != nil {
		return nil, err
	}
	return t.ShowBatch(epic.BlockedBy)
}

// Dependents returns the tickets blocked by epicID (the reverse edge of
// Blockers), used to find what to resume once epicID's operation merges.
func (t *Tracker) Dependents(epicID string) ([]*Ticket, error) {
	epic, err := t.Show(epicID)
	if err != nil {
		return nil, err
	}
	return t.ShowBatch(epic.Blocks)
}
