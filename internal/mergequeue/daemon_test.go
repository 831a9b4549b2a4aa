package mergequeue

import (
	"testing"

	"github.com/foreman-run/foreman/internal/operation"
	"github.com/foreman-run/foreman/internal/readiness"
	"github.com/foreman-run/foreman/internal/tracker"
	"github.com/foreman-run/foreman/internal/transition"
)

type fakeGit struct {
	conflicts       []string
	ffErr           error
	rebaseErr       error
	mergeCommitErr  error
	pushErr         error
	ancestorOK      bool
	commitMessage   string
	pushCalls       int
	deletedBranches []string
}

func (f *fakeGit) Fetch(string) error                        { return nil }
func (f *fakeGit) Checkout(string) error                      { return nil }
func (f *fakeGit) DiscardUncommitted() error                  { return nil }
func (f *fakeGit) ResetToRemote(string, string) error         { return nil }
func (f *fakeGit) CheckConflicts(string) ([]string, error)    { return f.conflicts, nil }
func (f *fakeGit) MergeFastForward(string) error              { return f.ffErr }
func (f *fakeGit) Rebase(string) error                        { return f.rebaseErr }
func (f *fakeGit) AbortRebase() error                         { return nil }
func (f *fakeGit) MergeCommit(string, string) error           { return f.mergeCommitErr }
func (f *fakeGit) GetBranchCommitMessage(string) (string, error) { return f.commitMessage, nil }
func (f *fakeGit) Rev(string) (string, error)                 { return "abc123", nil }
func (f *fakeGit) IsAncestor(string, string) (bool, error)    { return f.ancestorOK, nil }
func (f *fakeGit) Push(string, string, bool) error {
	f.pushCalls++
	return f.pushErr
}
func (f *fakeGit) DeleteRemoteBranch(remote, branch string) error {
	f.deletedBranches = append(f.deletedBranches, branch)
	return nil
}

type fakeTracker struct {
	closed []string
}

func (f *fakeTracker) ListByLabel(string, string) ([]*tracker.Ticket, error) { return nil, nil }
func (f *fakeTracker) Blockers(string) ([]*tracker.Ticket, error)            { return nil, nil }
func (f *fakeTracker) Dependents(string) ([]*tracker.Ticket, error)          { return nil, nil }
func (f *fakeTracker) Close(id string) error {
	f.closed = append(f.closed, id)
	return nil
}

type fakeResumer struct {
	resumed []string
}

func (f *fakeResumer) ResumeInBackground(name string) error {
	f.resumed = append(f.resumed, name)
	return nil
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(title, message string) error {
	f.messages = append(f.messages, title+": "+message)
	return nil
}

type recordingLog struct {
	lines []string
}

func (r *recordingLog) Append(event, details string) {
	r.lines = append(r.lines, event+": "+details)
}

type alwaysBranchExists struct{}

func (alwaysBranchExists) RemoteBranchExists(string, string) (bool, error) { return true, nil }

type noActiveSessions struct{}

func (noActiveSessions) IsActive(string) bool { return false }

func newTestDaemon(t *testing.T, git GitClient, tr TrackerClient, resumer Resumer, notify Notifier, log Logger) (*Daemon, *Store, *operation.Store, *transition.Engine) {
	t.Helper()
	dir := t.TempDir()
	opsStore := operation.NewStore(dir)
	engine := transition.NewEngine(opsStore, nil)
	queue := NewStore(dir)
	ready := readiness.New(opsStore, tr, noActiveSessions{}, alwaysBranchExists{}, "origin")

	d := NewDaemon(dir, DaemonConfig{
		Remote:        "origin",
		SharedBranch:  "main",
		PushRetries:   1,
		VerifyRetries: 1,
		RequireRemote: true,
		DeleteBranch:  true,
	}, queue, opsStore, engine, ready, nil, git, tr, nil, resumer, notify, log)

	return d, queue, opsStore, engine
}

func createReadyOperation(t *testing.T, ops *operation.Store, name string) {
	t.Helper()
	op := operation.New(name, operation.KindFeature, true)
	op.Branch = "feature/" + name
	op.EpicID = "epic-" + name
	if err := ops.Create(op); err != nil {
		t.Fatal(err)
	}
	if err := ops.UpdateFields(name, func(doc map[string]any) error {
		doc["phase"] = string(operation.PhaseCompleted)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestDaemon_PollOnce_MergesFastForwardOperation(t *testing.T) {
	git := &fakeGit{ffErr: nil, ancestorOK: true}
	tr := &fakeTracker{}
	resumer := &fakeResumer{}
	notify := &fakeNotifier{}
	log := &recordingLog{}
	d, queue, ops, _ := newTestDaemon(t, git, tr, resumer, notify, log)

	createReadyOperation(t, ops, "op1")
	if _, err := queue.Enqueue("fm", Entry{Operation: "op1", MergeType: MergeTypeOperation}); err != nil {
		t.Fatal(err)
	}

	d.pollOnce()

	op, err := ops.Read("op1")
	if err != nil {
		t.Fatal(err)
	}
	if op.Phase != operation.PhaseMerged {
		t.Fatalf("phase = %s, want merged", op.Phase)
	}
	if op.MergeCommit != "abc123" {
		t.Fatalf("merge commit = %q", op.MergeCommit)
	}

	entries, err := queue.List(StatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one completed entry, got %d", len(entries))
	}

	if len(tr.closed) != 1 || tr.closed[0] != "epic-op1" {
		t.Fatalf("expected epic to be closed, got %v", tr.closed)
	}
	if len(git.deletedBranches) != 1 {
		t.Fatalf("expected merged branch deleted, got %v", git.deletedBranches)
	}
}

func TestDaemon_PollOnce_ConflictWithoutResolverMarksConflict(t *testing.T) {
	git := &fakeGit{conflicts: []string{"a.go"}}
	tr := &fakeTracker{}
	d, queue, ops, _ := newTestDaemon(t, git, tr, &fakeResumer{}, &fakeNotifier{}, &recordingLog{})

	createReadyOperation(t, ops, "op1")
	if _, err := queue.Enqueue("fm", Entry{Operation: "op1", MergeType: MergeTypeOperation}); err != nil {
		t.Fatal(err)
	}

	d.pollOnce()

	op, err := ops.Read("op1")
	if err != nil {
		t.Fatal(err)
	}
	if op.Phase != operation.PhaseConflict {
		t.Fatalf("phase = %s, want conflict", op.Phase)
	}

	entries, err := queue.List(StatusConflict)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one conflict entry, got %d", len(entries))
	}
}

func TestDaemon_RetryGatePass_ResetsUnretriedConflictToPending(t *testing.T) {
	d, queue, ops, _ := newTestDaemon(t, &fakeGit{}, &fakeTracker{}, &fakeResumer{}, &fakeNotifier{}, &recordingLog{})

	createReadyOperation(t, ops, "op1")
	if _, err := queue.Enqueue("fm", Entry{Operation: "op1", MergeType: MergeTypeOperation}); err != nil {
		t.Fatal(err)
	}
	if err := queue.UpdateStatus("op1", StatusConflict, nil); err != nil {
		t.Fatal(err)
	}

	if err := d.retryGatePass(); err != nil {
		t.Fatal(err)
	}

	entries, err := queue.List(StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].ConflictRetried {
		t.Fatalf("expected entry reset to pending with conflict_retried set, got %v", entries)
	}

	// A second conflict after the retry is left alone (needs a human).
	if err := queue.UpdateStatus("op1", StatusConflict, nil); err != nil {
		t.Fatal(err)
	}
	if err := d.retryGatePass(); err != nil {
		t.Fatal(err)
	}
	conflictEntries, err := queue.List(StatusConflict)
	if err != nil {
		t.Fatal(err)
	}
	if len(conflictEntries) != 1 {
		t.Fatalf("expected conflict entry to remain untouched on second conflict, got %d", len(conflictEntries))
	}
}

func TestDaemon_CleanupPass_RemovesAlreadyMergedEntryWithoutReconciling(t *testing.T) {
	d, queue, ops, _ := newTestDaemon(t, &fakeGit{}, &fakeTracker{}, &fakeResumer{}, &fakeNotifier{}, &recordingLog{})

	createReadyOperation(t, ops, "op1")
	if _, err := queue.Enqueue("fm", Entry{Operation: "op1", MergeType: MergeTypeOperation}); err != nil {
		t.Fatal(err)
	}
	if err := ops.UpdateFields("op1", func(doc map[string]any) error {
		doc["phase"] = string(operation.PhaseMerged)
		doc["merge_commit"] = "deadbeef"
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := d.cleanupPass(); err != nil {
		t.Fatal(err)
	}

	entries, err := queue.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected stale already-merged entry removed, got %v", entries)
	}

	op, err := ops.Read("op1")
	if err != nil {
		t.Fatal(err)
	}
	if op.Phase != operation.PhaseMerged {
		t.Fatalf("expected phase to remain merged, got %s", op.Phase)
	}
}
