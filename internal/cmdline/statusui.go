package cmdline

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/foreman-run/foreman/internal/status"
	"github.com/foreman-run/foreman/internal/statusui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live-updating table of every operation's display status",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}

		fetch := func() ([]status.View, error) {
			names, err := app.Ops.List()
			if err != nil {
				return nil, err
			}
			return buildStatusView(app, names)
		}

		p := tea.NewProgram(statusui.New(fetch))
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
