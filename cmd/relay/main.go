package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nitzmahone/relay/pkg/log"
)

// version is stamped by the build
var version = "dev"

// globalFlags are shared by every subcommand
type globalFlags struct {
	logLevel string
	logJSON  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	global := &globalFlags{}

	root := &cobra.Command{
		Use:   "relay",
		Short: "Distributed task dispatch for remote hosts",
		Long: `Relay farms high-level actions targeting remote hosts out to a fleet
of isolated worker processes. Workers own long-lived transport connections
(local subprocess, SSH), perform the actual I/O, and stream structured
results back to the controller.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Setup(global.logLevel, global.logJSON, os.Stderr)
		},
	}

	root.PersistentFlags().StringVar(&global.logLevel, "log-level", "info", "minimum log level: debug, info, warn or error")
	root.PersistentFlags().BoolVar(&global.logJSON, "log-json", false, "emit logs as JSON instead of console text")

	root.AddCommand(
		newRunCmd(global),
		newWorkerCmd(global),
	)

	return root
}
