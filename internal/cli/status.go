package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lkoehl/pairsync/internal/config"
	"github.com/lkoehl/pairsync/internal/relstore"
)

// newStatusCommand creates the status command: a quick look at the config
// and relationship store without touching any provider.
func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config and relationship store state",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "pairsync status")

			cfg, err := config.Load(opts.Config)
			if err != nil {
				fmt.Fprintf(out, "  config:   %s (invalid: %v)\n", opts.Config, err)
				return nil
			}
			fmt.Fprintf(out, "  config:   %s\n", opts.Config)
			for _, c := range cfg.Conduits {
				fmt.Fprintf(out, "  conduit:  %s (%s, conflicts: %s, missing: %s, %d sink(s))\n",
					c.Name, c.Mode, c.ConflictPolicy, c.MissingPolicy, len(c.Sinks))
			}
			fmt.Fprintf(out, "  poll:     %s\n", cfg.PollInterval)

			storePath := cfg.StorePath
			if storePath == "" {
				if storePath, err = relstore.DefaultDBPath(); err != nil {
					return err
				}
			}
			if info, err := os.Stat(storePath); err == nil {
				fmt.Fprintf(out, "  store:    %s (%s)\n", storePath, humanSize(info.Size()))
			} else {
				fmt.Fprintf(out, "  store:    not created yet (%s)\n", storePath)
			}
			return nil
		},
	}
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
