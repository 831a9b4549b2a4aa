package worker

import (
	"fmt"
	"time"

	"github.com/foreman-run/foreman/internal/operation"
	"github.com/foreman-run/foreman/internal/session"
	"github.com/google/uuid"
)

// ConflictSession spawns a one-off "resolver" role session for a
// conflicting operation and blocks until it reports done, times out, or
// the poll budget is exhausted. It satisfies mergequeue.ConflictResolver.
type ConflictSession struct {
	def       *RoleDefinition
	remote    string
	shared    string
	ops       *operation.Store
	sessions  SessionManager
	pollEvery time.Duration
	timeout   time.Duration
}

// NewConflictSession returns a ConflictSession using the "resolver" role
// definition loaded from buildRoot.
func NewConflictSession(buildRoot, remote, sharedBranch string, ops *operation.Store, sessions SessionManager, timeout time.Duration) (*ConflictSession, error) {
	def, err := LoadRoleDefinition(buildRoot, "resolver")
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &ConflictSession{
		def: def, remote: remote, shared: sharedBranch, ops: ops, sessions: sessions,
		pollEvery: 10 * time.Second, timeout: timeout,
	}, nil
}

// ResolveConflict spawns the resolver session and waits for it to exit
// cleanly (the `done` marker) within the configured timeout. It reports
// resolved=false, nil error on timeout or on an `incomplete` exit, leaving
// the merge daemon to mark the entry conflict rather than failed.
func (c *ConflictSession) ResolveConflict(operationName string) (bool, error) {
	op, err := c.ops.Read(operationName)
	if err != nil {
		return false, err
	}

	v := TemplateVars{
		Name: op.Name, Operation: op.Name, Worktree: op.Worktree,
		PlanLabel: op.PlanFile, Remote: c.remote, SharedBranch: c.shared,
	}
	// Each resolution attempt gets its own session name: a prior attempt's
	// session may still be tearing down, and reusing its name would race
	// sessions.Start against sessions.Kill from the previous round.
	name := ExpandPattern(c.def.Session.Pattern, v) + "-" + uuid.New().String()[:8]
	workDir := ExpandPattern(c.def.Session.WorkDir, v)
	if workDir == "" {
		workDir = op.Worktree
	}
	env := ExpandEnv(c.def, v)
	command := c.def.Session.StartCommand
	if command == "" {
		command = "exec claude --dangerously-skip-permissions"
	}

	if err := session.WriteExitScripts(op.Worktree); err != nil {
		return false, err
	}
	session.ClearExitMarkers(op.Worktree)
	if err := c.sessions.Start(name, workDir, command, env); err != nil {
		return false, fmt.Errorf("starting resolver session: %w", err)
	}

	deadline := time.Now().Add(c.timeout)
	for time.Now().Before(deadline) {
		if session.DoneMarkerExists(op.Worktree) {
			return true, nil
		}
		if !c.sessions.IsActive(name) {
			return session.DoneMarkerExists(op.Worktree), nil
		}
		time.Sleep(c.pollEvery)
	}

	_ = c.sessions.Kill(name)
	return false, nil
}
