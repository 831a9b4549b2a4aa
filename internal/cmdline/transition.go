package cmdline

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/foreman-run/foreman/internal/events"
	"github.com/foreman-run/foreman/internal/operation"
	"github.com/foreman-run/foreman/internal/transition"
)

var transitionMergeCommit string
var transitionFailureReason string

// transitionCmd is the manual lifecycle-driver entry point (SPEC_FULL
// §10.1's "fm op transition"): whatever external signal moves an
// operation forward outside the worker supervisor and merge queue daemon
// — an issue filed against a plan, a session launched by hand — drives it
// through transitionCmd rather than through a hidden side channel.
var transitionCmd = &cobra.Command{
	Use:   "transition <name> <phase>",
	Short: "Drive an operation to a target phase (the lifecycle driver entry point)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		name, to := args[0], operation.Phase(args[1])
		if !to.IsValid() {
			return fmt.Errorf("unknown phase %q", args[1])
		}

		if err := app.Engine.Transition(name, to, transition.Options{
			MergeCommit:   transitionMergeCommit,
			FailureReason: transitionFailureReason,
		}); err != nil {
			return err
		}
		_ = app.Events.LogFeed(events.TypeTransition, name, map[string]interface{}{"to": string(to)})
		fmt.Printf("%s -> %s\n", name, to)
		return nil
	},
}

func init() {
	transitionCmd.Flags().StringVar(&transitionMergeCommit, "merge-commit", "", "merge commit hash (required when transitioning to merged)")
	transitionCmd.Flags().StringVar(&transitionFailureReason, "reason", "", "diagnostic reason recorded when transitioning to failed")
	rootCmd.AddCommand(transitionCmd)
}
