// Package cmdline wires the core's components into a runnable command-line
// program: a cobra root command plus one subcommand per operator-facing
// action (create, hold, show, run the merge queue, run a worker role).
package cmdline

import (
	"os"
	"path/filepath"

	"github.com/foreman-run/foreman/internal/depgraph"
	"github.com/foreman-run/foreman/internal/events"
	"github.com/foreman-run/foreman/internal/fmconfig"
	"github.com/foreman-run/foreman/internal/gitops"
	"github.com/foreman-run/foreman/internal/mergequeue"
	"github.com/foreman-run/foreman/internal/operation"
	"github.com/foreman-run/foreman/internal/readiness"
	"github.com/foreman-run/foreman/internal/tracker"
	"github.com/foreman-run/foreman/internal/transition"
	"github.com/foreman-run/foreman/internal/worker"
)

// App is the fully wired set of collaborators every subcommand operates
// against. It is built fresh per invocation from the build root the user
// pointed the CLI at (a project's .fm directory by convention).
type App struct {
	BuildRoot string
	WorkDir   string
	Config    *fmconfig.Config

	Ops       *operation.Store
	Engine    *transition.Engine
	Graph     *depgraph.Graph
	Readiness *readiness.Evaluator
	Queue     *mergequeue.Store
	Tracker   *tracker.Tracker
	Sessions  *worker.Tmux
	Notify    *FileNotifier
	Events    *events.Logger
}

// configPath and localConfigPath are the two layers fmconfig.LoadWithLocalOverride merges.
func configPath(buildRoot string) string      { return filepath.Join(buildRoot, "config.json") }
func localConfigPath(buildRoot string) string { return filepath.Join(buildRoot, "config.local.json") }

// NewApp loads configuration and wires every collaborator against
// buildRoot (typically <workDir>/.fm).
func NewApp(buildRoot, workDir string) (*App, error) {
	cfg, err := fmconfig.LoadWithLocalOverride(configPath(buildRoot), localConfigPath(buildRoot))
	if err != nil {
		return nil, err
	}

	ops := operation.NewStore(buildRoot)
	tr := tracker.New(workDir)
	sessions := worker.NewTmux()
	git := gitops.New(workDir)

	graph := depgraph.New(ops, tr)
	ready := readiness.New(ops, tr, sessions, git, cfg.Remote)
	queue := mergequeue.NewStore(buildRoot)
	notify := NewFileNotifier(buildRoot)
	feed := events.Open(buildRoot)

	logFor := func(name string) *operation.EventLog { return operation.OpenEventLog(buildRoot, name) }
	engine := transition.NewEngine(ops, logFor)

	return &App{
		BuildRoot: buildRoot,
		WorkDir:   workDir,
		Config:    cfg,
		Ops:       ops,
		Engine:    engine,
		Graph:     graph,
		Readiness: ready,
		Queue:     queue,
		Tracker:   tr,
		Sessions:  sessions,
		Notify:    notify,
		Events:    feed,
	}, nil
}

// DefaultBuildRoot is workDir/.fm, the project-local state directory.
func DefaultBuildRoot(workDir string) string {
	return filepath.Join(workDir, ".fm")
}

// gitFor returns a *gitops.Git rooted at worktree (used where a collaborator
// needs a tree other than the main working directory, e.g. a merge
// daemon operating the shared integration checkout, or the worker
// supervisor resetting an operation's own worktree).
func gitFor(worktree string) *gitops.Git {
	return gitops.New(worktree)
}

func mustWd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
