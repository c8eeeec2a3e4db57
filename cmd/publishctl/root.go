package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"publishengine/internal/config"
)

// exit codes per spec.md §6's CLI surface.
const (
	exitOK             = 0
	exitOther          = 1
	exitConfigError    = 2
	exitDBUnavailable  = 3
	exitPartialFailure = 4
)

var configPath string

// newRootCommand builds the publishctl root command, following the
// teacher's cobra+viper wiring in cmd/cobra_cli.go generalized from an
// interactive agent CLI to a headless service CLI.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "publishctl",
		Short:         "Operate the publication scheduling engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to publishengine.yaml (defaults to ./publishengine.yaml or $HOME)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newScanCommand())
	root.AddCommand(newRunOnceCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newDBCommand())
	return root
}

// loadConfig resolves CoreConfig via the --config flag, exiting the process
// with exitConfigError on failure since every subcommand needs a valid
// config before it can do anything else.
func loadConfig() config.CoreConfig {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "publishctl: config error: %v\n", err)
		os.Exit(exitConfigError)
	}
	return cfg
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
		os.Exit(exitOther)
	}
}
