package main

import (
	"fmt"
	"os"

	"pscx/logger"
	"pscx/tracing"
	"pscx/version"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if err := tracing.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start trace: %v\n", err)
	} else {
		defer tracing.Stop()
	}

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "pscx",
		Short: "Inspect and manage NTFS alternate data streams and reparse points",
		Long: `pscx lists, reads and removes the named data streams of NTFS files and
reads, creates and removes junctions, symbolic links and other reparse
points through the raw backup and FSCTL interfaces.

The scan command walks directory trees and writes one NDJSON record per
file with its streams, stream content hashes and reparse data.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(opts.logLevel)
		},
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to a JSON or YAML configuration file (default: pscx.* in . or $HOME/.pscx).")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error, fatal, or panic.")

	root.AddCommand(
		newStreamsCmd(),
		newCatCmd(),
		newRmStreamCmd(),
		newReparseCmd(),
		newJunctionCmd(),
		newUnjunctionCmd(),
		newSymlinkCmd(),
		newScanCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pscx version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pscx %s\n", version.Version)
		},
	}
}
