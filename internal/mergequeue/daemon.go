package mergequeue

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/foreman-run/foreman/internal/atomicstore"
	"github.com/foreman-run/foreman/internal/depgraph"
	"github.com/foreman-run/foreman/internal/fmerrors"
	"github.com/foreman-run/foreman/internal/operation"
	"github.com/foreman-run/foreman/internal/readiness"
	"github.com/foreman-run/foreman/internal/transition"
	"github.com/gofrs/flock"
)

// GitClient is the subset of gitops.Git the daemon's merge execution needs.
type GitClient interface {
	Fetch(remote string) error
	Checkout(ref string) error
	DiscardUncommitted() error
	ResetToRemote(remote, branch string) error
	CheckConflicts(source string) ([]string, error)
	MergeFastForward(branch string) error
	Rebase(onto string) error
	AbortRebase() error
	MergeCommit(branch, message string) error
	GetBranchCommitMessage(branch string) (string, error)
	Rev(ref string) (string, error)
	IsAncestor(ancestor, descendant string) (bool, error)
	Push(remote, branch string, force bool) error
	DeleteRemoteBranch(remote, branch string) error
}

// TrackerClient is the subset of tracker.Tracker the daemon needs directly
// (marking an epic done on full merge success), on top of what depgraph
// and readiness already require of their own narrower interfaces.
type TrackerClient interface {
	depgraph.TrackerClient
	readiness.TrackerClient
}

// ConflictResolver hands a conflicting merge off to an interactive
// resolution session and reports whether it left the tree conflict-free.
type ConflictResolver interface {
	ResolveConflict(operationName string) (resolved bool, err error)
}

// Resumer requests that a lifecycle driver resume an operation's work in
// the background (used both for the "still has open plan issues" dispatch
// skip and for depgraph.TriggerDependents).
type Resumer = depgraph.Resumer

// Notifier is the out-of-band notification sink; delivery is an external
// collaborator per the notifications contract.
type Notifier interface {
	Notify(title, message string) error
}

// Logger is the daemon-wide event log, independent of any single
// operation's per-operation log.
type Logger interface {
	Append(event, details string)
}

type noopLogger struct{}

func (noopLogger) Append(string, string) {}

// DaemonConfig tunes a Daemon's behavior; see fmconfig.MergeQueueConfig for
// the on-disk knobs this is built from.
type DaemonConfig struct {
	IDPrefix      string
	Remote        string
	SharedBranch  string
	PushRetries   int
	VerifyRetries int
	RequireRemote bool
	DeleteBranch  bool
}

// Daemon is the single-consumer merge queue poll loop (component C8).
type Daemon struct {
	cfg DaemonConfig

	store     *Store
	ops       *operation.Store
	engine    *transition.Engine
	readiness *readiness.Evaluator
	graph     *depgraph.Graph
	git       GitClient
	tracker   TrackerClient
	resolver  ConflictResolver
	resumer   Resumer
	notify    Notifier
	log       Logger

	pidFile   string
	pidLock   *flock.Flock
	stop      chan struct{}
	stopped   chan struct{}
}

// NewDaemon wires a Daemon from its collaborators. buildRoot is used to
// derive the PID file path (<buildRoot>/mergeq/daemon.pid); cfg's other
// fields must already be populated by the caller (see fmconfig).
func NewDaemon(buildRoot string, cfg DaemonConfig, store *Store, ops *operation.Store, engine *transition.Engine,
	ready *readiness.Evaluator, graph *depgraph.Graph, git GitClient, tr TrackerClient,
	resolver ConflictResolver, resumer Resumer, notify Notifier, log Logger) *Daemon {
	if log == nil {
		log = noopLogger{}
	}
	return &Daemon{
		cfg:       cfg,
		store:     store,
		ops:       ops,
		engine:    engine,
		readiness: ready,
		graph:     graph,
		git:       git,
		tracker:   tr,
		resolver:  resolver,
		resumer:   resumer,
		notify:    notify,
		log:       log,
		pidFile:   filepath.Join(buildRoot, "mergeq", "daemon.pid"),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// acquireSingleton enforces the process-wide singleton via the PID file
// (atomicstore's read-or-claim check) plus an OS-level advisory flock on
// the same file as a second, independent guard against a stale PID that
// was reused by an unrelated process.
func (d *Daemon) acquireSingleton() (func(), error) {
	ok, err := atomicstore.AcquireSingletonPIDFile(d.pidFile)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("merge queue daemon already running (pid file %s)", d.pidFile)
	}

	fl := flock.New(d.pidFile + ".flock")
	locked, err := fl.TryLock()
	if err != nil {
		_ = atomicstore.ReleaseSingletonPIDFile(d.pidFile)
		return nil, fmt.Errorf("acquiring daemon flock: %w", err)
	}
	if !locked {
		_ = atomicstore.ReleaseSingletonPIDFile(d.pidFile)
		return nil, fmt.Errorf("merge queue daemon already running (flock held)")
	}
	d.pidLock = fl

	return func() {
		_ = fl.Unlock()
		_ = atomicstore.ReleaseSingletonPIDFile(d.pidFile)
	}, nil
}

// Run blocks, polling every interval until Stop is called. It enforces the
// process-wide singleton on entry and releases it on exit.
func (d *Daemon) Run(interval time.Duration) error {
	release, err := d.acquireSingleton()
	if err != nil {
		return err
	}
	defer release()
	defer close(d.stopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		d.pollOnce()
		select {
		case <-d.stop:
			return nil
		case <-ticker.C:
		}
	}
}

// Stop requests the daemon finish its current cycle and exit, then blocks
// until it has.
func (d *Daemon) Stop() {
	close(d.stop)
	<-d.stopped
}

// pollOnce runs one full poll cycle: retry-gate, cleanup, dispatch, and
// (if an entry was claimed) merge execution. Errors from any pass are
// logged rather than propagated, since a transient failure in one pass
// must not prevent the others from running on the next tick.
func (d *Daemon) pollOnce() {
	if err := d.retryGatePass(); err != nil {
		d.log.Append("daemon_error", "retry-gate: "+err.Error())
	}
	if err := d.cleanupPass(); err != nil {
		d.log.Append("daemon_error", "cleanup: "+err.Error())
	}
	entry, err := d.dispatchPass()
	if err != nil {
		d.log.Append("daemon_error", "dispatch: "+err.Error())
		return
	}
	if entry == nil {
		return
	}
	d.executeMerge(entry)
}

// retryGatePass resets conflict entries to pending exactly once (spec
// §4.8 step 1), moving an operation still in phase conflict back to
// pending_merge so the retried entry passes the readiness check: a second
// conflict after the retry requires a human.
func (d *Daemon) retryGatePass() error {
	entries, err := d.store.List(StatusConflict)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ConflictRetried {
			continue
		}
		if err := d.store.UpdateStatus(e.Operation, StatusPending, func(e *Entry) {
			e.ConflictRetried = true
		}); err != nil {
			return err
		}
		if op, err := d.ops.Read(e.Operation); err == nil && op.Phase == operation.PhaseConflict {
			_ = d.engine.Transition(e.Operation, operation.PhasePendingMerge, transition.Options{})
		}
	}
	return nil
}

// cleanupPass drops pending entries whose operation is stale, reconciling
// the operation's own phase to match why it went stale.
func (d *Daemon) cleanupPass() error {
	return d.store.RemoveStale(
		func(e *Entry) (bool, error) {
			if e.Status != StatusPending {
				return false, nil
			}
			op, err := d.ops.Read(e.Operation)
			if err != nil {
				return false, err
			}
			reason, err := d.readiness.IsStale(op, op.Branch)
			if err != nil {
				if errors.Is(err, readiness.ErrStalenessLookupFailed) {
					return false, nil
				}
				return false, err
			}
			return reason != readiness.StaleNotStale, nil
		},
		func(e *Entry) {
			op, err := d.ops.Read(e.Operation)
			if err != nil {
				return
			}
			reason, _ := d.readiness.IsStale(op, op.Branch)
			switch reason {
			case readiness.StaleAlreadyMerged:
				// Already in its terminal phase; nothing to reconcile.
			case readiness.StaleBranchGone:
				_ = d.engine.Transition(e.Operation, operation.PhaseFailed, transition.Options{
					FailureReason: "queue entry dropped: remote branch no longer exists",
				})
			}
			d.log.Append("stale_entry_removed", fmt.Sprintf("%s reason=%s", e.Operation, reason))
		},
	)
}

// dispatchPass walks pending entries in queue order and claims the first
// one that is merge-ready, marking it processing. Entries whose operation
// still has open plan issues are marked resumed and trigger a background
// resume instead of being dispatched.
func (d *Daemon) dispatchPass() (*Entry, error) {
	pending, err := d.store.List(StatusPending)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(pending, func(i, j int) bool { return DefaultOrder(pending[i], pending[j]) })

	for _, next := range pending {
		op, err := d.ops.Read(next.Operation)
		if err != nil {
			return nil, err
		}

		result := d.readiness.IsMergeReady(op)
		if !result.Ready {
			if strings.HasPrefix(result.Reason, "open_issues:") {
				if err := d.store.UpdateStatus(next.Operation, StatusResumed, nil); err != nil {
					return nil, err
				}
				if d.resumer != nil {
					_ = d.resumer.ResumeInBackground(next.Operation)
				}
				continue
			}
			d.log.Append("dispatch_skip", fmt.Sprintf("%s: %s", next.Operation, result.Reason))
			continue
		}

		if op.Phase == operation.PhaseCompleted {
			if err := d.engine.Transition(op.Name, operation.PhasePendingMerge, transition.Options{}); err != nil {
				return nil, err
			}
		}

		if err := d.store.UpdateStatus(next.Operation, StatusProcessing, nil); err != nil {
			return nil, err
		}
		return next, nil
	}
	return nil, nil
}

// executeMerge runs the merge strategy cascade for a single claimed entry
// and applies the resulting success/failure outcome. Never more than one
// entry is processing at a time, enforced by the daemon being a single
// consumer.
func (d *Daemon) executeMerge(entry *Entry) {
	op, err := d.ops.Read(entry.Operation)
	if err != nil {
		d.fail(entry, "", fmt.Sprintf("reading operation: %v", err))
		return
	}

	if err := d.syncWorkspace(op.Branch); err != nil {
		d.fail(entry, op.Name, fmt.Sprintf("syncing workspace: %v", err))
		return
	}

	conflicted, err := d.detectAndResolveConflicts(entry, op)
	if err != nil {
		d.fail(entry, op.Name, fmt.Sprintf("conflict detection: %v", err))
		return
	}
	if conflicted {
		return // already transitioned to conflict by detectAndResolveConflicts
	}

	commit, err := d.runMergeStrategy(op.Branch)
	if err != nil {
		d.fail(entry, op.Name, fmt.Sprintf("merge strategy: %v", err))
		return
	}

	if err := d.pushAndVerify(commit); err != nil {
		d.fail(entry, op.Name, fmt.Sprintf("push/verify: %v", err))
		return
	}

	d.succeed(entry, op, commit)
}

func (d *Daemon) syncWorkspace(branch string) error {
	if err := d.git.Fetch(d.cfg.Remote); err != nil {
		return err
	}
	if err := d.git.DiscardUncommitted(); err != nil {
		return err
	}
	if err := d.git.Checkout(d.cfg.SharedBranch); err != nil {
		return err
	}
	return d.git.ResetToRemote(d.cfg.Remote, d.cfg.SharedBranch)
}

// detectAndResolveConflicts performs the cheap dry-run conflict check; on
// conflict it hands off to the resolver session and re-checks once. If
// still conflicted, the entry and operation both move to conflict and
// true is returned so the caller stops without treating this as failure.
func (d *Daemon) detectAndResolveConflicts(entry *Entry, op *operation.Operation) (bool, error) {
	conflicts, err := d.git.CheckConflicts(op.Branch)
	if err != nil {
		return false, err
	}
	if len(conflicts) == 0 {
		return false, nil
	}

	if d.resolver != nil {
		resolved, err := d.resolver.ResolveConflict(op.Name)
		if err == nil && resolved {
			conflicts, err = d.git.CheckConflicts(op.Branch)
			if err != nil {
				return false, err
			}
			if len(conflicts) == 0 {
				return false, nil
			}
		}
	}

	_ = d.store.UpdateStatus(entry.Operation, StatusConflict, nil)
	_ = d.engine.Transition(entry.Operation, operation.PhaseConflict, transition.Options{})
	d.log.Append("merge_conflict", fmt.Sprintf("%s: %v", entry.Operation, conflicts))
	if d.notify != nil {
		_ = d.notify.Notify("merge conflict", fmt.Sprintf("%s could not be merged automatically", entry.Operation))
	}
	return true, nil
}

// runMergeStrategy executes the ordered fast-forward -> rebase -> merge
// commit cascade and returns the resulting commit hash.
func (d *Daemon) runMergeStrategy(branch string) (string, error) {
	if err := d.git.MergeFastForward(branch); err == nil {
		return d.git.Rev(d.cfg.SharedBranch)
	}

	if err := d.git.Checkout(branch); err == nil {
		rebaseErr := d.git.Rebase(d.cfg.SharedBranch)
		if rebaseErr != nil {
			_ = d.git.AbortRebase()
		}
		if err := d.git.Checkout(d.cfg.SharedBranch); err != nil {
			return "", err
		}
		if rebaseErr == nil && d.git.MergeFastForward(branch) == nil {
			return d.git.Rev(d.cfg.SharedBranch)
		}
	}

	message, err := d.git.GetBranchCommitMessage(branch)
	if err != nil || message == "" {
		message = "merge " + branch
	}
	if err := d.git.MergeCommit(branch, message); err != nil {
		return "", fmt.Errorf("%w: %v", fmerrors.ErrMergeConflict, err)
	}
	return d.git.Rev(d.cfg.SharedBranch)
}

// pushAndVerify pushes the shared branch with retries, then verifies
// commit is an ancestor of the (possibly remote-tracked) shared branch
// with its own retry budget, fetching fresh before each retry.
func (d *Daemon) pushAndVerify(commit string) error {
	pushRetries := d.cfg.PushRetries
	if pushRetries <= 0 {
		pushRetries = 3
	}
	var lastErr error
	for attempt := 0; attempt < pushRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
		if err := d.git.Push(d.cfg.Remote, d.cfg.SharedBranch, false); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %v", fmerrors.ErrPushFailed, lastErr)
	}

	verifyRetries := d.cfg.VerifyRetries
	if verifyRetries <= 0 {
		verifyRetries = 3
	}
	for attempt := 0; attempt < verifyRetries; attempt++ {
		if attempt > 0 {
			_ = d.git.Fetch(d.cfg.Remote)
			time.Sleep(time.Duration(attempt) * time.Second)
		}
		ok, err := d.git.IsAncestor(commit, d.cfg.SharedBranch)
		if err == nil && ok {
			if !d.cfg.RequireRemote {
				return nil
			}
			remoteOk, err := d.git.IsAncestor(commit, d.cfg.Remote+"/"+d.cfg.SharedBranch)
			if err == nil && remoteOk {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s not observable as ancestor after retries", fmerrors.ErrVerifyFailed, commit)
}

func (d *Daemon) succeed(entry *Entry, op *operation.Operation, commit string) {
	if err := d.engine.Transition(op.Name, operation.PhaseMerged, transition.Options{MergeCommit: commit}); err != nil {
		d.fail(entry, op.Name, fmt.Sprintf("transitioning to merged: %v", err))
		return
	}
	_ = d.store.UpdateStatus(entry.Operation, StatusCompleted, nil)

	if op.EpicID != "" && d.tracker != nil {
		_ = d.tracker.Close(op.EpicID)
	}

	merged, err := d.ops.Read(op.Name)
	if err == nil && d.graph != nil && d.resumer != nil {
		_ = d.graph.TriggerDependents(merged, d.resumer, nil)
	}

	if d.cfg.DeleteBranch && op.Branch != "" {
		_ = d.git.DeleteRemoteBranch(d.cfg.Remote, op.Branch)
	}

	d.log.Append("merged", fmt.Sprintf("%s commit=%s", op.Name, commit))
	if d.notify != nil {
		_ = d.notify.Notify("merged", fmt.Sprintf("%s merged as %s", op.Name, commit))
	}
}

func (d *Daemon) fail(entry *Entry, opName, reason string) {
	if entry != nil {
		_ = d.store.UpdateStatus(entry.Operation, StatusFailed, nil)
	}
	if opName != "" {
		_ = d.engine.Transition(opName, operation.PhaseFailed, transition.Options{FailureReason: reason})
	}
	d.log.Append("merge_failed", fmt.Sprintf("%s: %s", opName, reason))
	if d.notify != nil {
		_ = d.notify.Notify("merge failed", fmt.Sprintf("%s: %s", opName, reason))
	}
}

// IsAlive reports whether a daemon.pid in buildRoot/mergeq names a live
// process, without attempting to claim it.
func IsAlive(buildRoot string) bool {
	return atomicstore.IsPIDFileLive(filepath.Join(buildRoot, "mergeq", "daemon.pid"))
}
