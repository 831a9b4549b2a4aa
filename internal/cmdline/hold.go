package cmdline

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/foreman-run/foreman/internal/events"
	"github.com/foreman-run/foreman/internal/operation"
	"github.com/foreman-run/foreman/internal/transition"
)

var holdCmd = &cobra.Command{
	Use:   "hold <name>",
	Short: "Suppress further transitions for an operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		if err := app.Engine.Hold(args[0]); err != nil {
			return err
		}
		_ = app.Events.LogFeed(events.TypeHold, args[0], nil)
		fmt.Printf("%s held\n", args[0])
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <name>",
	Short: "Clear a hold, or resume from failed/interrupted back into its prior phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		op, err := app.Ops.Read(args[0])
		if err != nil {
			return err
		}
		if op.Held {
			if err := app.Engine.ResumeHold(args[0]); err != nil {
				return err
			}
			_ = app.Events.LogFeed(events.TypeResume, args[0], map[string]interface{}{"from": "hold"})
			fmt.Printf("%s resumed from hold\n", args[0])
			return nil
		}
		if err := app.Engine.Resume(args[0]); err != nil {
			return err
		}
		_ = app.Events.LogFeed(events.TypeResume, args[0], map[string]interface{}{"from": string(op.Phase)})
		fmt.Printf("%s resumed\n", args[0])
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <name>",
	Short: "Cancel an operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		if err := app.Engine.Transition(args[0], operation.PhaseCancelled, transition.Options{}); err != nil {
			return err
		}
		fmt.Printf("%s cancelled\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(holdCmd, resumeCmd, cancelCmd)
}
