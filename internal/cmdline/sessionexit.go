package cmdline

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/foreman-run/foreman/internal/gitops"
	"github.com/foreman-run/foreman/internal/session"
)

// sessionExitCmd is the stop-hook entrypoint the agent runtime invokes
// before letting a session's process exit (component C10). It reads a
// StopHookInput document from standard input and writes a StopHookDecision
// to standard output, using V0_OP (set in the session's environment by the
// role definition) to look up the operation's plan label and worktree.
var sessionExitCmd = &cobra.Command{
	Use:   "session-exit",
	Short: "Stop-hook decision: approve or block a session's exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}

		input, err := session.ReadInput(cmd.InOrStdin())
		if err != nil {
			return err
		}

		opName := os.Getenv("V0_OP")
		var planLabel string
		var tree session.TreeChecker
		if opName != "" {
			if op, err := app.Ops.Read(opName); err == nil {
				planLabel = op.PlanFile
				if op.Worktree != "" {
					tree = gitops.New(op.Worktree)
				}
			}
		}

		decision := session.Decide(input, planLabel, app.Tracker, tree, os.Getenv("V0_NOTE_WITHOUT_FIX_ISSUE"))
		return session.WriteDecision(cmd.OutOrStdout(), decision)
	},
}

func init() {
	rootCmd.AddCommand(sessionExitCmd)
}
