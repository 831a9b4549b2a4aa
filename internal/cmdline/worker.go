package cmdline

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/foreman-run/foreman/internal/gitops"
	"github.com/foreman-run/foreman/internal/operation"
	"github.com/foreman-run/foreman/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker supervisor commands",
}

// rolePhase is the operation phase each built-in role supervises: executors
// watch executing operations, resolvers watch conflict resolution sessions.
var rolePhase = map[string]operation.Phase{
	"executor": operation.PhaseExecuting,
	"resolver": operation.PhaseConflict,
}

var workerRunCmd = &cobra.Command{
	Use:   "run <role>",
	Short: "Run the supervision loop for one role (executor or resolver) until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := args[0]
		phase, ok := rolePhase[role]
		if !ok {
			return fmt.Errorf("unknown role %q (want executor or resolver)", role)
		}

		app, err := newApp()
		if err != nil {
			return err
		}

		log := NewDaemonLog(app.BuildRoot, "worker-"+role)
		gitFor := func(worktree string) worker.GitResetter { return gitops.New(worktree) }

		sup, err := worker.NewSupervisor(app.BuildRoot, role, app.Config.Remote, app.Config.SharedBranch,
			app.Ops, app.Engine, app.Queue, "mq", app.Tracker, app.Sessions, gitFor, app.Notify, log, app.Config.Worker)
		if err != nil {
			return err
		}

		names := func() ([]string, error) {
			all, err := app.Ops.List()
			if err != nil {
				return nil, err
			}
			var matched []string
			for _, n := range all {
				op, err := app.Ops.Read(n)
				if err != nil {
					continue
				}
				if op.Phase == phase {
					matched = append(matched, n)
				}
			}
			return matched, nil
		}

		return sup.Run(names)
	},
}

func init() {
	workerCmd.AddCommand(workerRunCmd)
	rootCmd.AddCommand(workerCmd)
}
