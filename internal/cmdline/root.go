package cmdline

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var workDirFlag string

var rootCmd = &cobra.Command{
	Use:           "fm",
	Short:         "Drive operations through planning, execution, and merge",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&workDirFlag, "dir", "", "project directory (default: current directory)")
}

// Execute runs the root command and returns a process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fm:", err)
		return 1
	}
	return 0
}

func resolveWorkDir() string {
	if workDirFlag != "" {
		return workDirFlag
	}
	return mustWd()
}

func newApp() (*App, error) {
	wd := resolveWorkDir()
	return NewApp(DefaultBuildRoot(wd), wd)
}
