package cmdline

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/foreman-run/foreman/internal/events"
	"github.com/foreman-run/foreman/internal/operation"
	"github.com/foreman-run/foreman/internal/transition"
)

var (
	createKind     string
	createNoMerge  bool
	createEpicID   string
	createPlanFile string
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a new operation in the init phase and plan it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		name := args[0]

		kind := operation.Kind(createKind)
		switch kind {
		case operation.KindFeature, operation.KindFix, operation.KindChore:
		default:
			return fmt.Errorf("unknown kind %q (want feature, fix, or chore)", createKind)
		}

		op := operation.New(name, kind, !createNoMerge)
		op.EpicID = createEpicID
		op.PlanFile = createPlanFile
		op.Branch = kind.BranchPrefix() + "/" + name

		if err := app.Ops.Create(op); err != nil {
			return err
		}

		target := operation.PhasePlanned
		if blocker, err := app.Graph.IsBlocked(op); err == nil && blocker != "" {
			target = operation.PhaseBlocked
		}
		if err := app.Engine.Transition(name, target, transition.Options{}); err != nil {
			return err
		}
		_ = app.Events.LogFeed(events.TypeOperationCreated, name, map[string]interface{}{"kind": string(kind)})
		fmt.Printf("created %s (%s), phase=%s\n", name, kind, target)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createKind, "kind", "feature", "feature, fix, or chore")
	createCmd.Flags().BoolVar(&createNoMerge, "no-merge", false, "completion does not auto-enqueue into the merge queue")
	createCmd.Flags().StringVar(&createEpicID, "epic", "", "tracker issue id for this operation's root ticket")
	createCmd.Flags().StringVar(&createPlanFile, "plan-label", "", "plan artifact label used for tracker lookups")
	rootCmd.AddCommand(createCmd)
}
