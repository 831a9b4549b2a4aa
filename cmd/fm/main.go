// Command fm drives operations through planning, execution, and merge.
package main

import (
	"os"

	"github.com/foreman-run/foreman/internal/cmdline"
)

func main() {
	os.Exit(cmdline.Execute())
}
