package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/foreman-run/foreman/internal/fmconfig"
	"github.com/foreman-run/foreman/internal/mergequeue"
	"github.com/foreman-run/foreman/internal/operation"
	"github.com/foreman-run/foreman/internal/session"
	"github.com/foreman-run/foreman/internal/tracker"
	"github.com/foreman-run/foreman/internal/transition"
)

// IssueTracker is the subset of tracker.Tracker the supervisor needs: work
// list inspection for crash detection, note-taking, and the
// note-without-fix reassignment.
type IssueTracker interface {
	ListByLabel(label, status string) ([]*tracker.Ticket, error)
	AddNote(id, note string) error
	SetAssignee(id, assignee string) error
}

// GitResetter is the per-worktree subset of gitops.Git the supervisor needs
// to reset a tree to the shared branch before a relaunch.
type GitResetter interface {
	Fetch(remote string) error
	Checkout(ref string) error
	ResetToRemote(remote, branch string) error
}

// Notifier is the out-of-band notification sink.
type Notifier interface {
	Notify(title, message string) error
}

// Logger is the event sink the supervisor appends progress/crash lines to.
type Logger interface {
	Append(event, details string)
}

type noopLogger struct{}

func (noopLogger) Append(string, string) {}

type crashState struct {
	consecutiveNoProgress int
	lastWorkCount         int
	haveSnapshot          bool
	stopped               bool
}

// Supervisor is the single-instance-per-role background poller that spawns,
// monitors, and restarts agent sessions for every operation currently
// assigned to its role (component C9).
type Supervisor struct {
	roleName     string
	def          *RoleDefinition
	buildRoot    string
	remote       string
	sharedBranch string

	ops      *operation.Store
	engine   *transition.Engine
	queue    *mergequeue.Store
	idPrefix string
	tr       IssueTracker
	sessions SessionManager
	gitFor   func(worktree string) GitResetter
	notify   Notifier
	log      Logger
	cfg      *fmconfig.WorkerConfig

	mu    sync.Mutex
	state map[string]*crashState
	idle  map[string]*idleWatch

	stop    chan struct{}
	stopped chan struct{}
}

// NewSupervisor returns a Supervisor for roleName ("executor" or
// "resolver"), loading its role definition from buildRoot's override layer
// merged onto the built-in default. engine and queue let the supervisor
// drive the done-exit contract (C10): marking a finished operation
// completed and, when it is merge-queued, auto-enqueuing it (C7) with
// idPrefix as the queue-ID prefix.
func NewSupervisor(buildRoot, roleName, remote, sharedBranch string, ops *operation.Store, engine *transition.Engine,
	queue *mergequeue.Store, idPrefix string, tr IssueTracker, sessions SessionManager,
	gitFor func(worktree string) GitResetter, notify Notifier, log Logger,
	cfg *fmconfig.WorkerConfig) (*Supervisor, error) {
	def, err := LoadRoleDefinition(buildRoot, roleName)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = noopLogger{}
	}
	if cfg == nil {
		cfg = fmconfig.DefaultWorkerConfig()
	}
	return &Supervisor{
		roleName:     roleName,
		def:          def,
		buildRoot:    buildRoot,
		remote:       remote,
		sharedBranch: sharedBranch,
		ops:          ops,
		engine:       engine,
		queue:        queue,
		idPrefix:     idPrefix,
		tr:           tr,
		sessions:     sessions,
		gitFor:       gitFor,
		notify:       notify,
		log:          log,
		cfg:          cfg,
		state:        make(map[string]*crashState),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}, nil
}

// Run blocks, polling every WorkerConfig.PollIntervalDuration until Stop is
// called.
func (s *Supervisor) Run(names func() ([]string, error)) error {
	defer close(s.stopped)
	interval := s.cfg.PollIntervalDuration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		active, err := names()
		if err != nil {
			s.log.Append("supervisor_error", err.Error())
		} else {
			for _, name := range active {
				s.pollOperation(name)
			}
		}
		select {
		case <-s.stop:
			return nil
		case <-ticker.C:
		}
	}
}

// Stop requests the poller finish its current sweep and exit.
func (s *Supervisor) Stop() {
	close(s.stop)
	<-s.stopped
}

func (s *Supervisor) sessionName(op *operation.Operation) string {
	return ExpandPattern(s.def.Session.Pattern, s.templateVars(op))
}

func (s *Supervisor) templateVars(op *operation.Operation) TemplateVars {
	return TemplateVars{
		Name: op.Name, Operation: op.Name, Worktree: op.Worktree,
		PlanLabel: op.PlanFile, Remote: s.remote, SharedBranch: s.sharedBranch,
	}
}

// completeOperation implements the worker side of the done-exit contract
// (C10, spec §2): a session that exited clean marks its operation
// completed, then, unless the operation opted out with merge_queued=false,
// auto-enqueues it into the merge queue (C7) as a fresh pending entry so
// the merge queue daemon (C8) can pick it up.
func (s *Supervisor) completeOperation(op *operation.Operation) {
	if s.engine == nil {
		return
	}
	if err := s.engine.Transition(op.Name, operation.PhaseCompleted, transition.Options{}); err != nil {
		s.log.Append("complete_failed", fmt.Sprintf("%s: %v", op.Name, err))
		return
	}
	if !op.MergeQueued {
		s.log.Append("completed", op.Name)
		return
	}

	if err := s.engine.Transition(op.Name, operation.PhasePendingMerge, transition.Options{}); err != nil {
		s.log.Append("pending_merge_failed", fmt.Sprintf("%s: %v", op.Name, err))
		return
	}
	if s.queue == nil {
		return
	}
	if _, err := s.queue.Enqueue(s.idPrefix, mergequeue.Entry{
		Operation: op.Name,
		MergeType: mergequeue.MergeTypeOperation,
		Worktree:  op.Worktree,
	}); err != nil {
		s.log.Append("enqueue_failed", fmt.Sprintf("%s: %v", op.Name, err))
		return
	}
	s.log.Append("auto_enqueued", op.Name)
}

// pollOperation implements one iteration of the supervision loop for a
// single operation (spec §4.9): check liveness, detect crashes with
// no-progress escalation, back off, and relaunch.
func (s *Supervisor) pollOperation(name string) {
	s.mu.Lock()
	st, ok := s.state[name]
	if !ok {
		st = &crashState{}
		s.state[name] = st
	}
	stopped := st.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	op, err := s.ops.Read(name)
	if err != nil {
		return
	}
	sessionName := s.sessionName(op)

	if s.sessions.IsActive(sessionName) {
		s.checkIdle(op, sessionName)
		return
	}
	s.clearIdleWatch(op.Worktree)

	if session.DoneMarkerExists(op.Worktree) {
		s.mu.Lock()
		st.consecutiveNoProgress = 0
		st.haveSnapshot = false
		s.mu.Unlock()
		s.completeOperation(op)
		return
	}

	// The session is gone without a clean exit: a crash. Inspect the work
	// list to tell progress from a stuck loop.
	workCount := s.openWorkCount(op)

	s.mu.Lock()
	progressed := !st.haveSnapshot || workCount != st.lastWorkCount
	st.lastWorkCount = workCount
	st.haveSnapshot = true
	if progressed {
		st.consecutiveNoProgress = 0
	} else {
		st.consecutiveNoProgress++
	}
	noProgressCount := st.consecutiveNoProgress
	s.mu.Unlock()

	if noProgressCount == 1 {
		s.log.Append("crash_no_progress", name)
		if s.notify != nil {
			_ = s.notify.Notify("worker crash", fmt.Sprintf("%s exited without progress", name))
		}
	}
	if noProgressCount >= 2 {
		s.mu.Lock()
		st.stopped = true
		s.mu.Unlock()
		s.log.Append("supervisor_stopped", fmt.Sprintf("%s: repeated crash with no progress", name))
		if s.notify != nil {
			_ = s.notify.Notify("supervisor stopped", fmt.Sprintf("%s: no_progress after repeated crashes", name))
		}
		return
	}

	if session.ErrorFlagExists(op.Worktree) {
		delay := s.cfg.BackoffDelay(noProgressCount)
		s.log.Append("backoff", fmt.Sprintf("%s: sleeping %s before relaunch", name, delay))
		time.Sleep(delay)
	}

	session.ClearExitMarkers(op.Worktree)

	if s.gitFor != nil && op.Worktree != "" {
		g := s.gitFor(op.Worktree)
		_ = g.Fetch(s.remote)
		_ = g.Checkout(s.sharedBranch)
		_ = g.ResetToRemote(s.remote, s.sharedBranch)
		_ = g.Checkout(op.Branch)
	}

	if err := s.launch(op); err != nil {
		s.log.Append("launch_failed", fmt.Sprintf("%s: %v", name, err))
	}
}

// checkIdle kills a session whose worktree has seen no filesystem activity
// for cfg.IdleTicks consecutive polls (spec §5's idle-complete timer). A
// zero or unset IdleTicks disables the check.
func (s *Supervisor) checkIdle(op *operation.Operation, sessionName string) {
	if s.cfg.IdleTicks <= 0 || op.Worktree == "" {
		return
	}
	w := s.idleWatchOf(op.Worktree)
	if w == nil {
		return
	}
	if w.poll() < s.cfg.IdleTicks {
		return
	}
	s.log.Append("idle_complete", fmt.Sprintf("%s: no artifact changes in %d ticks, killing session", op.Name, s.cfg.IdleTicks))
	_ = s.sessions.Kill(sessionName)
	s.clearIdleWatch(op.Worktree)
}

// launch starts a fresh session for op, publishing the exit scripts first.
func (s *Supervisor) launch(op *operation.Operation) error {
	if err := session.WriteExitScripts(op.Worktree); err != nil {
		return err
	}
	name := s.sessionName(op)
	workDir := ExpandPattern(s.def.Session.WorkDir, s.templateVars(op))
	if workDir == "" {
		workDir = op.Worktree
	}
	env := ExpandEnv(s.def, s.templateVars(op))
	command := s.def.Session.StartCommand
	if command == "" {
		command = "exec claude --dangerously-skip-permissions"
	}
	return s.sessions.Start(name, workDir, command, env)
}

// openWorkCount is the supervisor's work-list snapshot: the count of open
// (todo/in_progress) issues for the operation's plan label.
func (s *Supervisor) openWorkCount(op *operation.Operation) int {
	if op.PlanFile == "" || s.tr == nil {
		return 0
	}
	tickets, err := s.tr.ListByLabel(op.PlanFile, "")
	if err != nil {
		return 0
	}
	count := 0
	for _, t := range tickets {
		if t.IsOpen() {
			count++
		}
	}
	return count
}

// HandleNoteWithoutFix reassigns issueID to worker:human when the agent
// exited without committing but left an explanatory note (spec §4.9):
// the supervisor stops auto-relaunching for that operation.
func (s *Supervisor) HandleNoteWithoutFix(operationName, issueID, note string) error {
	if s.tr != nil {
		if err := s.tr.AddNote(issueID, note); err != nil {
			return err
		}
		if err := s.tr.SetAssignee(issueID, tracker.AssigneeHuman); err != nil {
			return err
		}
	}
	s.mu.Lock()
	st, ok := s.state[operationName]
	if !ok {
		st = &crashState{}
		s.state[operationName] = st
	}
	st.stopped = true
	s.mu.Unlock()
	s.log.Append("note_without_fix", fmt.Sprintf("%s: %s reassigned to %s", operationName, issueID, tracker.AssigneeHuman))
	return nil
}
