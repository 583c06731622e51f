package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lkoehl/pairsync/internal/engine"
	"github.com/lkoehl/pairsync/internal/provider"
)

// watchCooldown suppresses watcher-triggered passes that arrive while one is
// already queued.
const watchCooldown = 2 * time.Second

// newDaemonCommand creates the daemon command: run every conduit on the poll
// interval and additionally whenever a watch-capable provider reports a
// change, until a signal arrives.
func newDaemonCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run continuously, syncing on an interval and on provider changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			app, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer app.Close()

			return runDaemon(ctx, app)
		},
	}
}

// runDaemon is the daemon event loop. Conflicts are never prompted for here:
// "ask" conflicts stay pending across passes (coalescing keeps them from
// piling up), while replaceUnconditionally decisions apply after every pass.
func runDaemon(ctx context.Context, app *app) error {
	go consumeEvents(ctx, app)

	trigger := make(chan string, 1)
	startWatchers(ctx, app, trigger)

	app.log.Info("daemon starting", "poll_interval", app.cfg.PollInterval, "conduits", len(app.conduits))
	runPass(ctx, app)

	ticker := time.NewTicker(app.cfg.PollInterval)
	defer ticker.Stop()

	var lastWatch time.Time
	for {
		select {
		case <-ctx.Done():
			app.log.Info("daemon shutting down")
			app.engine.Stop()
			app.resolver.CancelAll()
			app.resolver.Wait()
			return nil

		case <-ticker.C:
			runPass(ctx, app)

		case name := <-trigger:
			if time.Since(lastWatch) < watchCooldown {
				continue
			}
			lastWatch = time.Now()
			app.log.Info("change detected, syncing early", "provider", name)
			runPass(ctx, app)
		}
	}
}

// runPass runs every conduit once and applies whatever decided conflicts the
// pass produced.
func runPass(ctx context.Context, app *app) {
	summaries := app.runAllConduits(ctx)
	for _, s := range summaries {
		if s.Err != nil && !errors.Is(s.Err, context.Canceled) {
			app.log.Error("conduit run failed", "conduit", s.Conduit, "error", s.Err)
		}
	}
	if n := app.resolver.ResolvePending(ctx); n > 0 {
		app.log.Info("applying decided conflicts", "count", n)
	}
}

// startWatchers subscribes to every provider that can report changes. Each
// watcher runs until the daemon context is cancelled.
func startWatchers(ctx context.Context, app *app, trigger chan<- string) {
	seen := make(map[string]bool)
	for _, c := range app.conduits {
		participants := append([]provider.Provider{c.Source}, c.Sinks...)
		for _, p := range participants {
			w, ok := p.(provider.Watcher)
			if !ok || seen[p.UID()] {
				continue
			}
			seen[p.UID()] = true

			uid := p.UID()
			go func() {
				err := w.Watch(ctx, func() {
					select {
					case trigger <- uid:
					default:
					}
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					app.log.Error("watcher stopped", "provider", uid, "error", err)
				}
			}()
		}
	}
}

// consumeEvents drains the engine's notification stream into the log so the
// buffered channel never fills up.
func consumeEvents(ctx context.Context, app *app) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-app.engine.Events():
			switch ev.Kind {
			case engine.EventConflict:
				app.log.Info("conflict raised", "conduit", ev.Conduit, "id", ev.ConflictID)
			case engine.EventStatus:
				app.log.Debug("provider status", "conduit", ev.Conduit, "provider", ev.Provider, "status", ev.Status)
			case engine.EventRunDone:
				app.log.Debug("conduit run done", "conduit", ev.Conduit, "put", ev.Stats.Put, "conflicts", ev.Stats.Conflicts)
			}
		}
	}
}
