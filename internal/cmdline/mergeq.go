package cmdline

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/foreman-run/foreman/internal/mergequeue"
	"github.com/foreman-run/foreman/internal/worker"
)

var mergeqCmd = &cobra.Command{
	Use:   "mergeq",
	Short: "Merge queue daemon commands",
}

var mergeqRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the single-consumer merge queue daemon until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		mq := app.Config.MergeQueue

		resolver, err := worker.NewConflictSession(app.BuildRoot, app.Config.Remote, app.Config.SharedBranch,
			app.Ops, app.Sessions, 0)
		if err != nil {
			return fmt.Errorf("loading resolver role: %w", err)
		}

		log := NewDaemonLog(app.BuildRoot, "mergeq")
		resumer := newBackgroundResumer(log)

		daemon := mergequeue.NewDaemon(app.BuildRoot, mergequeue.DaemonConfig{
			IDPrefix:      "mq",
			Remote:        app.Config.Remote,
			SharedBranch:  app.Config.SharedBranch,
			PushRetries:   mq.PushRetries,
			VerifyRetries: mq.VerifyRetries,
			RequireRemote: mq.RequireRemote,
			DeleteBranch:  mq.DeleteMergedBranches,
		}, app.Queue, app.Ops, app.Engine, app.Readiness, app.Graph,
			gitFor(app.WorkDir), app.Tracker, resolver, resumer, app.Notify, log)

		done := make(chan error, 1)
		go func() { done <- daemon.Run(mq.PollIntervalDuration()) }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			daemon.Stop()
			return <-done
		case err := <-done:
			return err
		}
	},
}

func init() {
	mergeqCmd.AddCommand(mergeqRunCmd)
	rootCmd.AddCommand(mergeqCmd)
}
