// translatord queues chapters of a library for machine translation and runs
// them one at a time, throttling engines that are rate limited upstream.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var cfgPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "translatord",
		Short: "Batch chapter translation service",
		Long: `translatord translates chapters of a stored library in batches.

Only one batch runs at a time. Queuing chapters of another book cancels the
current batch; more chapters of the same book are appended to it. Engines that
call a remote API are throttled, and large batches for them need confirmation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newImportCmd(),
		newEnginesCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "translatord version %s\n", version)
			fmt.Fprintf(out, "  commit:    %s\n", commit)
			fmt.Fprintf(out, "  built:     %s\n", date)
		},
	}
}
