package cmdline

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/foreman-run/foreman/internal/operation"
	"github.com/foreman-run/foreman/internal/session"
	"github.com/foreman-run/foreman/internal/status"
)

// renderPhase renders a view's phase in its semantic color when stdout is
// an interactive terminal, falling back to plain text when it isn't (e.g.
// piped into another command or a log file).
func renderPhase(v status.View) string {
	padded := fmt.Sprintf("%-16s", string(v.DisplayPhase))
	if !session.IsInteractive() {
		return padded
	}
	return lipgloss.NewStyle().Foreground(v.Color).Render(padded)
}

// buildStatusView resolves a status.View for each named operation, priming
// the blocker cache with one batch call for every referenced epic.
func buildStatusView(app *App, names []string) ([]status.View, error) {
	entries, err := app.Queue.List("")
	if err != nil {
		return nil, err
	}
	sessions, err := app.Sessions.ListSessions()
	if err != nil {
		sessions = map[string]bool{}
	}

	ops := make([]*operation.Operation, 0, len(names))
	var epicIDs []string
	for _, name := range names {
		op, err := app.Ops.Read(name)
		if err != nil {
			continue
		}
		ops = append(ops, op)
		if op.EpicID != "" {
			epicIDs = append(epicIDs, op.EpicID)
		}
	}

	cache := status.NewBlockerCache(app.Tracker)
	if err := cache.Prime(epicIDs); err != nil {
		return nil, err
	}

	builder := status.NewBuilder(entries, sessions, cache)
	views := make([]status.View, 0, len(ops))
	for _, op := range ops {
		views = append(views, builder.View(op))
	}
	return views, nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known operation with its display status",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		names, err := app.Ops.List()
		if err != nil {
			return err
		}
		views, err := buildStatusView(app, names)
		if err != nil {
			return err
		}
		for _, v := range views {
			fmt.Printf("%-24s %s %s\n", v.Operation, renderPhase(v), v.MergeIcon)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one operation's display status and blockers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		views, err := buildStatusView(app, []string{args[0]})
		if err != nil {
			return err
		}
		if len(views) == 0 {
			return fmt.Errorf("no such operation %q", args[0])
		}
		v := views[0]
		fmt.Printf("%s: %s%s (session_active=%v)\n", v.Operation, renderPhase(v), v.MergeIcon, v.SessionActive)
		for _, b := range v.Blockers {
			fmt.Printf("  blocked by: %s\n", b)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd, showCmd)
}
