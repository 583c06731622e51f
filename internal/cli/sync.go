package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lkoehl/pairsync/internal/conflict"
	"github.com/lkoehl/pairsync/internal/engine"
)

// newSyncCommand creates the sync command: one pass over every conduit, an
// interactive prompt for whatever conflicts the pass raised, then exit.
func newSyncCommand(opts *RootOptions) *cobra.Command {
	var nonInteractive bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync pass over every conduit",
		Long: `Run every configured conduit once and exit.

Conflicts raised under an "ask" policy are prompted for on the terminal
after the pass. With --non-interactive they are left pending instead
(a later run will coalesce and re-raise them).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			app, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			summaries := app.runAllConduits(ctx)
			for _, s := range summaries {
				printSummary(cmd.OutOrStdout(), s)
			}

			if app.resolver.PendingCount() > 0 && !nonInteractive {
				if err := promptConflicts(ctx, app, os.Stdin, cmd.OutOrStdout()); err != nil {
					return err
				}
				app.resolver.ResolvePending(ctx)
				app.resolver.Wait()
				if err := app.store.Commit(ctx); err != nil {
					app.log.Error("committing relationship store", "error", err)
				}
			}

			if left := app.resolver.PendingCount(); left > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d conflict(s) left pending\n", left)
			}

			for _, s := range summaries {
				if s.Err != nil {
					return fmt.Errorf("conduit %q: %w", s.Conduit, s.Err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "never prompt; leave conflicts pending")
	return cmd
}

// printSummary writes one conduit's outcome in status-per-participant form.
func printSummary(w io.Writer, s engine.RunSummary) {
	fmt.Fprintf(w, "%s: %d put, %d deleted, %d skipped, %d conflicts, %d errors\n",
		s.Conduit, s.Stats.Put, s.Stats.Deleted, s.Stats.Skipped, s.Stats.Conflicts, s.Stats.Errors)
	for uid, status := range s.Statuses {
		fmt.Fprintf(w, "  %-24s %s\n", uid, status)
	}
}

// promptConflicts walks every pending conflict and records the user's
// decision. An unrecognised or empty answer keeps the default skip.
func promptConflicts(ctx context.Context, app *app, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	pending := app.resolver.Pending()
	fmt.Fprintf(out, "\n%d conflict(s) need a decision:\n", len(pending))

	for _, cf := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s\n", cf.Summary())
		for i, d := range cf.LegalDirections {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, describe(d, cf))
		}
		fmt.Fprintf(out, "Choice [1]: ")

		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading answer: %w", err)
		}
		choice := strings.TrimSpace(line)
		if choice == "" {
			continue // keep the default skip
		}
		n, convErr := strconv.Atoi(choice)
		if convErr != nil || n < 1 || n > len(cf.LegalDirections) {
			fmt.Fprintf(out, "  unrecognised answer, skipping\n")
			continue
		}
		if err := app.resolver.Decide(cf.ID, cf.LegalDirections[n-1]); err != nil {
			return fmt.Errorf("recording decision for conflict %d: %w", cf.ID, err)
		}
	}
	return nil
}

// describe renders one legal direction with the provider names filled in.
func describe(d conflict.Direction, cf *conflict.Conflict) string {
	switch d {
	case conflict.SourceToSink:
		return fmt.Sprintf("copy %s version to %s", cf.Source.UID(), cf.Sink.UID())
	case conflict.SinkToSource:
		return fmt.Sprintf("copy %s version to %s", cf.Sink.UID(), cf.Source.UID())
	case conflict.Delete:
		holder := cf.Source
		if cf.SinkItem != nil {
			holder = cf.Sink
		}
		return fmt.Sprintf("delete the remaining copy on %s", holder.UID())
	default:
		return "skip (leave both sides untouched)"
	}
}
