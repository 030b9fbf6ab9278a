package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/ethpandaops/harvester/cmd.Release=..."
//
//nolint:gochecknoglobals // Build-time variables for version info
var (
	Release   = "dev"
	GitCommit = "none"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var versionShort bool

//nolint:gochecknoglobals // Cobra commands are typically global
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the harvester release, commit and platform",
	Long: `Print the harvester release and git commit it was built from, together
with the Go runtime and platform. Use --short for the release only.`,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()

		if versionShort {
			fmt.Fprintln(out, Release)
			return
		}

		fmt.Fprintf(out, "harvester %s (commit %s)\n%s %s/%s\n",
			Release, GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print the release only")
}
