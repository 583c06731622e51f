// Package cli implements the pairsync command-line interface: one-shot sync
// passes, daemon mode, and status output, all wired from the YAML config.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/lkoehl/pairsync/internal/config"
)

// RootOptions holds the global flags shared by every subcommand.
type RootOptions struct {
	Config  string
	Verbose bool
}

// NewRootCommand creates the root command for the pairsync CLI.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "pairsync",
		Short:         "Synchronize pairs of data providers",
		Long:          "pairsync reconciles items between configured data providers,\ntracking cross-provider identity in a local relationship store and\nrouting undecidable changes to an explicit conflict queue.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultCfg, _ := config.DefaultPath()
	cmd.PersistentFlags().StringVar(&opts.Config, "config", defaultCfg, "path to config.yaml")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newDaemonCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newVersionCommand(version))

	return cmd
}
