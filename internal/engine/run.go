package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lkoehl/pairsync/internal/provider"
	"github.com/lkoehl/pairsync/internal/typegraph"
)

// finishTimeout bounds the Finish calls of a cancelled run, which no longer
// has a live context of its own.
const finishTimeout = 10 * time.Second

// statusTracker accumulates per-participant statuses for one run and emits
// an event on every upgrade. Statuses only ever get worse.
type statusTracker struct {
	engine   *Engine
	conduit  string
	statuses map[string]provider.Status
}

func newStatusTracker(e *Engine, c *Conduit) *statusTracker {
	t := &statusTracker{engine: e, conduit: c.Name, statuses: make(map[string]provider.Status)}
	t.statuses[c.Source.UID()] = provider.StatusOK
	for _, sink := range c.Sinks {
		t.statuses[sink.UID()] = provider.StatusOK
	}
	return t
}

func (t *statusTracker) upgrade(uid string, s provider.Status) {
	next := t.statuses[uid].Worse(s)
	if next == t.statuses[uid] {
		return
	}
	t.statuses[uid] = next
	t.engine.emit(Event{Kind: EventStatus, Conduit: t.conduit, Provider: uid, Status: next})
}

// cancelRemaining marks every participant that has not reached a terminal
// failure with the cancelled status.
func (t *statusTracker) cancelRemaining() {
	for uid, s := range t.statuses {
		if s == provider.StatusError {
			continue
		}
		t.upgrade(uid, provider.StatusCancelled)
	}
}

// runConduit drives the full state machine for one conduit run. It is the
// body of the conduit's worker goroutine.
func (e *Engine) runConduit(ctx context.Context, c *Conduit) RunSummary {
	ctx, span := e.tracer.Start(ctx, spanConduitRun,
		trace.WithAttributes(attribute.String("conduit", c.Name)))
	defer span.End()

	st := newStatusTracker(e, c)
	var stats Stats

	state := StateRefreshing
	e.log.Info("conduit run starting", "conduit", c.Name, "mode", c.Mode.String(), "state", state.String())

	err := e.run(ctx, c, st, &stats, &state)

	cancelled := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	if cancelled {
		st.cancelRemaining()
		err = context.Canceled
	} else if err != nil {
		// Conduit-level abort: every participant ends in error.
		span.RecordError(err)
		for uid := range st.statuses {
			st.upgrade(uid, provider.StatusError)
		}
	}

	// Done state: finish every participant exactly once and flush the store.
	state = StateDone
	e.finish(ctx, c, st, cancelled)
	e.record(ctx, span, stats)

	e.log.Info("conduit run finished",
		"conduit", c.Name,
		"state", state.String(),
		"put", stats.Put,
		"deleted", stats.Deleted,
		"skipped", stats.Skipped,
		"conflicts", stats.Conflicts,
		"errors", stats.Errors,
		"cancelled", cancelled,
	)
	e.emit(Event{Kind: EventRunDone, Conduit: c.Name, Stats: stats})

	return RunSummary{Conduit: c.Name, Stats: stats, Statuses: st.statuses, Err: err}
}

// run executes the Refreshing and Syncing states. A returned error is either
// a context cancellation or a conduit-level abort.
func (e *Engine) run(ctx context.Context, c *Conduit, st *statusTracker, stats *Stats, state *SyncState) error {
	// --- Refreshing ----------------------------------------------------------

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Source.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("source refresh: %w", err)
	}

	excluded := make(map[string]bool)
	for _, sink := range c.Sinks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Fatal to this sink only: exclude it and keep going.
			e.log.Error("sink refresh failed, excluding from run",
				"conduit", c.Name, "sink", sink.UID(), "error", err)
			st.upgrade(sink.UID(), provider.StatusError)
			excluded[sink.UID()] = true
		}
	}

	if c.Mode == RefreshOnly {
		return nil
	}
	if len(excluded) == len(c.Sinks) {
		// No sink survived refresh; nothing to sync.
		return nil
	}

	// --- Syncing -------------------------------------------------------------

	if err := ctx.Err(); err != nil {
		return err
	}
	*state = StateSyncing
	e.log.Debug("conduit state change", "conduit", c.Name, "state", state.String())

	var sourceCount int
	if c.Mode == OneWay {
		n, err := c.Source.NumItems(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("counting source items: %w", err)
		}
		sourceCount = n
	}

	for _, sink := range c.Sinks {
		if excluded[sink.UID()] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.checkConvertible(c.Source, sink); err != nil {
			// Conversion graph exhausted for this pair: fatal to the conduit.
			return err
		}

		var sinkStats Stats
		var err error
		switch c.Mode {
		case OneWay:
			sinkStats, err = e.oneWay(ctx, c, sink, sourceCount, st)
		case TwoWay:
			sinkStats, err = e.twoWay(ctx, c, sink, st)
		}
		stats.add(sinkStats)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
	return nil
}

// checkConvertible verifies that the source and sink types are connected in
// the conversion graph at all. Untyped providers accept anything.
func (e *Engine) checkConvertible(source, sink provider.Provider) error {
	src, okSrc := source.(provider.Typed)
	snk, okSnk := sink.(provider.Typed)
	if !okSrc || !okSnk {
		return nil
	}
	if !e.graph.ConversionExists(src.ItemType(), snk.ItemType(), true) {
		return fmt.Errorf("no conversion from %q to %q: %w",
			src.ItemType(), snk.ItemType(), typegraph.ErrConversionUnavailable)
	}
	return nil
}

// finish finalises a run: flush the relationship store, call Finish exactly
// once per participant, and emit the final statuses. A cancelled run gets a
// fresh bounded context for the Finish calls.
func (e *Engine) finish(ctx context.Context, c *Conduit, st *statusTracker, cancelled bool) {
	if cancelled || ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), finishTimeout)
		defer cancel()
	}

	if err := e.store.Commit(ctx); err != nil {
		e.log.Error("committing relationship store", "conduit", c.Name, "error", err)
	}

	participants := append([]provider.Provider{c.Source}, c.Sinks...)
	for _, p := range participants {
		if err := p.Finish(ctx); err != nil {
			e.log.Error("provider finish failed", "conduit", c.Name, "provider", p.UID(), "error", err)
		}
		e.emit(Event{Kind: EventStatus, Conduit: c.Name, Provider: p.UID(), Status: st.statuses[p.UID()]})
	}
}
