// Pairsync reconciles items between pairs of data providers, one-way or
// two-way, tracking cross-provider identity in a local SQLite store and
// routing undecidable changes to an explicit conflict queue.
//
// Usage:
//
//	pairsync sync [--config <path>]    # single pass over every conduit
//	pairsync daemon [--config <path>]  # poll + watch continuously
//	pairsync status                    # show config and store state
//	pairsync version                   # print version
package main

import (
	"log/slog"
	"os"

	"github.com/lkoehl/pairsync/internal/cli"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}
