package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set with -ldflags at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "orchestra %s\n", Version)
		fmt.Fprintf(out, "  commit:     %s\n", GitCommit)
		fmt.Fprintf(out, "  built:      %s\n", BuildTime)
		fmt.Fprintf(out, "  go version: %s\n", runtime.Version())
	},
}
