package engine

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/lkoehl/pairsync/internal/typegraph"
)

const (
	otelScope       = "pairsync/engine"
	spanConduitRun  = "engine.conduit_run"
	metricPut       = "pairsync.engine.items.put"
	metricDeleted   = "pairsync.engine.items.deleted"
	metricSkipped   = "pairsync.engine.items.skipped"
	metricConflicts = "pairsync.engine.conflicts"
	metricErrors    = "pairsync.engine.errors"
)

// eventBuffer is the capacity of the engine's event channel. Events beyond
// it are dropped rather than blocking conduit workers.
const eventBuffer = 128

// Engine orchestrates one synchronization state machine per conduit. Create
// one with [NewEngine], run conduits with [Engine.Sync], and tear it down
// with [Engine.Stop].
type Engine struct {
	graph     *typegraph.Graph
	conflicts ConflictQueue
	store     RelationshipStore
	log       *slog.Logger
	events    chan Event

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntPut       metric.Int64Counter
	cntDeleted   metric.Int64Counter
	cntSkipped   metric.Int64Counter
	cntConflicts metric.Int64Counter
	cntErrors    metric.Int64Counter

	mu      sync.Mutex
	workers map[string]*runner // conduit name → live worker
}

// runner tracks one live conduit worker so a new request for the same pair
// can cancel-and-join it first.
type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates an Engine. The type graph is frozen here: no conversion
// edges may be registered once the engine exists.
func NewEngine(graph *typegraph.Graph, conflicts ConflictQueue, store RelationshipStore, logger *slog.Logger) *Engine {
	graph.Freeze()

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		graph:     graph,
		conflicts: conflicts,
		store:     store,
		log:       logger,
		events:    make(chan Event, eventBuffer),
		workers:   make(map[string]*runner),

		tracer:       tracer,
		cntPut:       mustCounter(metricPut, "Number of items written to sinks"),
		cntDeleted:   mustCounter(metricDeleted, "Number of item deletions propagated"),
		cntSkipped:   mustCounter(metricSkipped, "Number of items skipped during sync"),
		cntConflicts: mustCounter(metricConflicts, "Number of conflicts raised during sync"),
		cntErrors:    mustCounter(metricErrors, "Number of item-level errors during sync"),
	}
}

// Events returns the engine's notification stream. Consumers that fall
// behind lose events rather than stalling conduit workers.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Sync starts a background worker for the conduit and returns a channel that
// delivers exactly one RunSummary when the worker finishes. A conduit that
// already has a live worker is cancelled and joined before the new run
// starts, so no pair ever has two workers at once.
func (e *Engine) Sync(ctx context.Context, c *Conduit) <-chan RunSummary {
	// The join drops the lock, so another Sync for the same conduit may have
	// installed a fresh runner by the time we re-acquire it. Loop until the
	// slot is observed free under the lock.
	e.mu.Lock()
	for {
		old, ok := e.workers[c.Name]
		if !ok {
			break
		}
		e.mu.Unlock()
		e.log.Info("cancelling previous run", "conduit", c.Name)
		old.cancel()
		<-old.done
		e.mu.Lock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &runner{cancel: cancel, done: make(chan struct{})}
	e.workers[c.Name] = r
	e.mu.Unlock()

	out := make(chan RunSummary, 1)
	go func() {
		defer close(r.done)
		defer cancel()

		summary := e.runConduit(runCtx, c)

		e.mu.Lock()
		if e.workers[c.Name] == r {
			delete(e.workers, c.Name)
		}
		e.mu.Unlock()

		out <- summary
	}()
	return out
}

// Stop cancels every live worker and blocks until all of them have joined.
func (e *Engine) Stop() {
	e.mu.Lock()
	running := make([]*runner, 0, len(e.workers))
	for _, r := range e.workers {
		running = append(running, r)
	}
	e.mu.Unlock()

	for _, r := range running {
		r.cancel()
		<-r.done
	}
}

// emit delivers an event without ever blocking a worker.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Debug("event dropped, consumer too slow", "kind", ev.Kind, "conduit", ev.Conduit)
	}
}

// record flushes a run's counters and annotates its span.
func (e *Engine) record(ctx context.Context, span trace.Span, stats Stats) {
	if stats.Put > 0 {
		e.cntPut.Add(ctx, int64(stats.Put))
	}
	if stats.Deleted > 0 {
		e.cntDeleted.Add(ctx, int64(stats.Deleted))
	}
	if stats.Skipped > 0 {
		e.cntSkipped.Add(ctx, int64(stats.Skipped))
	}
	if stats.Conflicts > 0 {
		e.cntConflicts.Add(ctx, int64(stats.Conflicts))
	}
	if stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(stats.Errors))
	}

	span.SetAttributes(
		attribute.Int("sync.put", stats.Put),
		attribute.Int("sync.deleted", stats.Deleted),
		attribute.Int("sync.skipped", stats.Skipped),
		attribute.Int("sync.conflicts", stats.Conflicts),
		attribute.Int("sync.errors", stats.Errors),
	)
}
