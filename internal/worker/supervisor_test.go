package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foreman-run/foreman/internal/fmconfig"
	"github.com/foreman-run/foreman/internal/mergequeue"
	"github.com/foreman-run/foreman/internal/operation"
	"github.com/foreman-run/foreman/internal/tracker"
	"github.com/foreman-run/foreman/internal/transition"
)

func writeDoneMarker(dir string) error {
	return os.WriteFile(filepath.Join(dir, ".done-exit"), nil, 0o644)
}

type fakeSessions struct {
	active    map[string]bool
	startLog  []string
	killLog   []string
	startErr  error
}

func (f *fakeSessions) IsActive(name string) bool { return f.active[name] }
func (f *fakeSessions) Start(name, workDir, command string, env map[string]string) error {
	f.startLog = append(f.startLog, name)
	if f.startErr != nil {
		return f.startErr
	}
	if f.active == nil {
		f.active = map[string]bool{}
	}
	f.active[name] = true
	return nil
}
func (f *fakeSessions) Kill(name string) error {
	f.killLog = append(f.killLog, name)
	delete(f.active, name)
	return nil
}
func (f *fakeSessions) PanePID(name string) (int, error) { return 1234, nil }

type fakeIssueTracker struct {
	tickets []*tracker.Ticket
	notes   []string
	assigns []string
}

func (f *fakeIssueTracker) ListByLabel(string, string) ([]*tracker.Ticket, error) { return f.tickets, nil }
func (f *fakeIssueTracker) AddNote(id, note string) error {
	f.notes = append(f.notes, id+": "+note)
	return nil
}
func (f *fakeIssueTracker) SetAssignee(id, assignee string) error {
	f.assigns = append(f.assigns, id+"="+assignee)
	return nil
}

type fakeGitResetter struct{}

func (fakeGitResetter) Fetch(string) error                { return nil }
func (fakeGitResetter) Checkout(string) error              { return nil }
func (fakeGitResetter) ResetToRemote(string, string) error { return nil }

type fakeNotifier struct{ messages []string }

func (f *fakeNotifier) Notify(title, msg string) error {
	f.messages = append(f.messages, title+": "+msg)
	return nil
}

type recordingLog struct{ lines []string }

func (r *recordingLog) Append(event, details string) {
	r.lines = append(r.lines, event+": "+details)
}

func newTestSupervisor(t *testing.T, sessions *fakeSessions, tr *fakeIssueTracker, notify *fakeNotifier, log *recordingLog) (*Supervisor, *operation.Store) {
	t.Helper()
	dir := t.TempDir()
	ops := operation.NewStore(dir)
	cfg := fmconfig.DefaultWorkerConfig()
	logFor := func(name string) *operation.EventLog { return operation.OpenEventLog(dir, name) }
	engine := transition.NewEngine(ops, logFor)
	queue := mergequeue.NewStore(dir)
	sup, err := NewSupervisor(dir, "executor", "origin", "main", ops, engine, queue, "mq", tr, sessions,
		func(string) GitResetter { return fakeGitResetter{} }, notify, log, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return sup, ops
}

// advanceToExecuting drives a freshly created (init-phase) operation
// through planned -> queued -> executing so tests can exercise the
// done-exit completion path without a real agent session.
func advanceToExecuting(t *testing.T, sup *Supervisor, name string) error {
	t.Helper()
	for _, phase := range []operation.Phase{operation.PhasePlanned, operation.PhaseQueued, operation.PhaseExecuting} {
		if err := sup.engine.Transition(name, phase, transition.Options{}); err != nil {
			return err
		}
	}
	return nil
}

func createOp(t *testing.T, ops *operation.Store, name string) *operation.Operation {
	t.Helper()
	op := operation.New(name, operation.KindFeature, true)
	op.Worktree = t.TempDir()
	op.Branch = "feature/" + name
	op.PlanFile = "plan-" + name
	if err := ops.Create(op); err != nil {
		t.Fatal(err)
	}
	return op
}

func TestSupervisor_DoesNothingWhenSessionActive(t *testing.T) {
	sessions := &fakeSessions{active: map[string]bool{}}
	tr := &fakeIssueTracker{}
	notify := &fakeNotifier{}
	log := &recordingLog{}
	sup, ops := newTestSupervisor(t, sessions, tr, notify, log)

	op := createOp(t, ops, "op1")
	sessions.active[sup.sessionName(op)] = true

	sup.pollOperation("op1")

	if len(sessions.startLog) != 0 {
		t.Fatalf("expected no relaunch for an active session, got %v", sessions.startLog)
	}
}

func TestSupervisor_RelaunchesOnFirstCrash(t *testing.T) {
	sessions := &fakeSessions{active: map[string]bool{}}
	tr := &fakeIssueTracker{tickets: []*tracker.Ticket{{ID: "wk-1", Status: tracker.StatusTodo}}}
	notify := &fakeNotifier{}
	log := &recordingLog{}
	sup, ops := newTestSupervisor(t, sessions, tr, notify, log)
	createOp(t, ops, "op1")

	sup.pollOperation("op1")

	if len(sessions.startLog) != 1 {
		t.Fatalf("expected one relaunch, got %v", sessions.startLog)
	}
}

func TestSupervisor_StopsAfterSecondConsecutiveNoProgressCrash(t *testing.T) {
	sessions := &fakeSessions{}
	tr := &fakeIssueTracker{tickets: []*tracker.Ticket{{ID: "wk-1", Status: tracker.StatusTodo}}}
	notify := &fakeNotifier{}
	log := &recordingLog{}
	sup, ops := newTestSupervisor(t, sessions, tr, notify, log)
	createOp(t, ops, "op1")

	// First poll: no baseline snapshot yet, relaunches silently.
	sup.pollOperation("op1")
	// The relaunch marks the session active; simulate it crashing again
	// immediately (work list unchanged) by clearing the active flag.
	sessions.active = map[string]bool{}

	// Second poll: now has a baseline, same work count -> first crash.
	sup.pollOperation("op1")
	if len(notify.messages) != 1 {
		t.Fatalf("expected one crash notification, got %v", notify.messages)
	}
	sessions.active = map[string]bool{}

	// Third poll: second consecutive no-progress crash -> supervisor stops.
	sup.pollOperation("op1")
	if len(notify.messages) != 2 {
		t.Fatalf("expected a second notification for supervisor stop, got %v", notify.messages)
	}

	startsBeforeStop := len(sessions.startLog)
	sessions.active = map[string]bool{}
	sup.pollOperation("op1")
	if len(sessions.startLog) != startsBeforeStop {
		t.Fatalf("expected no further relaunch once stopped, got %v", sessions.startLog)
	}
}

func TestSupervisor_DoneMarkerResetsCrashCounter(t *testing.T) {
	sessions := &fakeSessions{}
	tr := &fakeIssueTracker{}
	sup, ops := newTestSupervisor(t, sessions, tr, &fakeNotifier{}, &recordingLog{})
	op := createOp(t, ops, "op1")
	if err := advanceToExecuting(t, sup, "op1"); err != nil {
		t.Fatal(err)
	}

	if err := writeDoneMarker(op.Worktree); err != nil {
		t.Fatal(err)
	}

	sup.pollOperation("op1")

	if len(sessions.startLog) != 0 {
		t.Fatalf("expected no relaunch when a done marker is present, got %v", sessions.startLog)
	}
}

func TestSupervisor_DoneMarker_CompletesAndAutoEnqueues(t *testing.T) {
	sessions := &fakeSessions{}
	tr := &fakeIssueTracker{}
	sup, ops := newTestSupervisor(t, sessions, tr, &fakeNotifier{}, &recordingLog{})
	op := createOp(t, ops, "op1") // createOp's op is merge_queued=true

	if err := advanceToExecuting(t, sup, "op1"); err != nil {
		t.Fatal(err)
	}
	if err := writeDoneMarker(op.Worktree); err != nil {
		t.Fatal(err)
	}

	sup.pollOperation("op1")

	got, err := ops.Read("op1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != operation.PhasePendingMerge {
		t.Fatalf("expected phase pending_merge after auto-enqueue, got %s", got.Phase)
	}

	entries, err := sup.queue.List(mergequeue.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Operation != "op1" {
		t.Fatalf("expected one pending queue entry for op1, got %v", entries)
	}
}

func TestSupervisor_DoneMarker_NoMergeSkipsEnqueue(t *testing.T) {
	sessions := &fakeSessions{}
	tr := &fakeIssueTracker{}
	sup, ops := newTestSupervisor(t, sessions, tr, &fakeNotifier{}, &recordingLog{})

	op := operation.New("op2", operation.KindFeature, false) // merge_queued=false
	op.Worktree = t.TempDir()
	op.Branch = "feature/op2"
	if err := ops.Create(op); err != nil {
		t.Fatal(err)
	}
	if err := advanceToExecuting(t, sup, "op2"); err != nil {
		t.Fatal(err)
	}
	if err := writeDoneMarker(op.Worktree); err != nil {
		t.Fatal(err)
	}

	sup.pollOperation("op2")

	got, err := ops.Read("op2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != operation.PhaseCompleted {
		t.Fatalf("expected phase completed (no auto-enqueue), got %s", got.Phase)
	}

	entries, err := sup.queue.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no queue entries for a merge_queued=false operation, got %v", entries)
	}
}

func TestSupervisor_HandleNoteWithoutFix_ReassignsAndStopsPolling(t *testing.T) {
	sessions := &fakeSessions{}
	tr := &fakeIssueTracker{}
	sup, ops := newTestSupervisor(t, sessions, tr, &fakeNotifier{}, &recordingLog{})
	createOp(t, ops, "op1")

	if err := sup.HandleNoteWithoutFix("op1", "wk-1", "blocked on missing credentials"); err != nil {
		t.Fatal(err)
	}
	if len(tr.assigns) != 1 || tr.assigns[0] != "wk-1="+tracker.AssigneeHuman {
		t.Fatalf("expected reassignment to %s, got %v", tracker.AssigneeHuman, tr.assigns)
	}

	sup.pollOperation("op1")
	if len(sessions.startLog) != 0 {
		t.Fatalf("expected no relaunch for an operation handed off to a human, got %v", sessions.startLog)
	}
}

func TestSupervisor_KillsSessionAfterIdleTicksWithNoArtifactChanges(t *testing.T) {
	sessions := &fakeSessions{active: map[string]bool{}}
	tr := &fakeIssueTracker{}
	log := &recordingLog{}
	sup, ops := newTestSupervisor(t, sessions, tr, &fakeNotifier{}, log)
	sup.cfg.IdleTicks = 2

	op := createOp(t, ops, "op1")
	name := sup.sessionName(op)
	sessions.active[name] = true

	sup.pollOperation("op1") // tick 1: no event yet, ticks=1
	if len(sessions.killLog) != 0 {
		t.Fatalf("expected no kill before reaching IdleTicks, got %v", sessions.killLog)
	}
	sup.pollOperation("op1") // tick 2: ticks=2, reaches threshold
	if len(sessions.killLog) != 1 || sessions.killLog[0] != name {
		t.Fatalf("expected session %s killed for idleness, got %v", name, sessions.killLog)
	}
}

func TestSupervisor_ArtifactChangeResetsIdleCounter(t *testing.T) {
	sessions := &fakeSessions{active: map[string]bool{}}
	tr := &fakeIssueTracker{}
	sup, ops := newTestSupervisor(t, sessions, tr, &fakeNotifier{}, &recordingLog{})
	sup.cfg.IdleTicks = 2

	op := createOp(t, ops, "op1")
	name := sup.sessionName(op)
	sessions.active[name] = true

	sup.pollOperation("op1") // ticks=1

	if err := os.WriteFile(filepath.Join(op.Worktree, "plan.md"), []byte("progress"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Give fsnotify's OS watch a moment to queue the event before the next
	// poll drains it.
	time.Sleep(200 * time.Millisecond)

	sup.pollOperation("op1") // the write should have reset ticks to 0
	if len(sessions.killLog) != 0 {
		t.Fatalf("expected no kill after an artifact change reset the idle counter, got %v", sessions.killLog)
	}
}
