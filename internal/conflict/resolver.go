package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// DefaultWorkers is the resolution pool size when the config leaves it unset.
const DefaultWorkers = 3

// ResolvedFunc is called after a resolution job succeeds, with the identity
// pair the caller should persist in the relationship store. sourceID or
// sinkID is empty when that side no longer holds the item (deletions).
type ResolvedFunc func(ctx context.Context, pairKey, sourceID, sinkID string) error

// Resolver owns the queue of pending conflicts and the bounded worker pool
// that applies decisions. All exported methods are safe for concurrent use.
type Resolver struct {
	log        *slog.Logger
	onResolved ResolvedFunc
	slots      chan struct{} // semaphore bounding concurrent jobs

	mu       sync.Mutex
	pending  map[uint64]*Conflict
	byKey    map[string]uint64 // coalescing key → pending conflict ID
	inFlight map[string]bool
	nextID   uint64

	wg sync.WaitGroup
}

// NewResolver creates a resolver whose pool runs at most workers resolution
// jobs concurrently. onResolved may be nil when no bookkeeping is wanted.
func NewResolver(workers int, onResolved ResolvedFunc, logger *slog.Logger) *Resolver {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Resolver{
		log:        logger,
		onResolved: onResolved,
		slots:      make(chan struct{}, workers),
		pending:    make(map[uint64]*Conflict),
		byKey:      make(map[string]uint64),
		inFlight:   make(map[string]bool),
	}
}

// Raise queues a conflict and returns its ID. A conflict for an identity
// tuple that is already pending or currently resolving is coalesced: the
// existing ID is returned and the new instance dropped. The conflict's
// Decision must be legal, and Skip must always be legal.
func (r *Resolver) Raise(c *Conflict) (uint64, error) {
	if !c.Allows(Skip) {
		return 0, fmt.Errorf("conflict %s: skip must always be a legal direction", c.Summary())
	}
	if !c.Allows(c.Decision) {
		return 0, fmt.Errorf("conflict %s: initial decision %s is not legal", c.Summary(), c.Decision)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := c.key()
	if id, ok := r.byKey[key]; ok {
		r.log.Debug("conflict coalesced", "id", id, "key", key)
		return id, nil
	}

	r.nextID++
	c.ID = r.nextID
	r.pending[c.ID] = c
	r.byKey[key] = c.ID

	r.log.Info("conflict raised", "id", c.ID, "conflict", c.Summary(), "decision", c.Decision.String())
	return c.ID, nil
}

// Decide sets the decision for a pending conflict. Directions outside the
// conflict's legal set are rejected.
func (r *Resolver) Decide(id uint64, d Direction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.pending[id]
	if !ok {
		return fmt.Errorf("no pending conflict with id %d", id)
	}
	if !c.Allows(d) {
		return fmt.Errorf("conflict %d: direction %s is not legal (legal: %v)", id, d, c.LegalDirections)
	}
	c.Decision = d
	return nil
}

// Pending returns a snapshot of the queued conflicts, ordered by ID.
func (r *Resolver) Pending() []*Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Conflict, 0, len(r.pending))
	for _, c := range r.pending {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingByPair groups the queued conflicts by provider pair for inspection.
func (r *Resolver) PendingByPair() map[string][]*Conflict {
	out := make(map[string][]*Conflict)
	for _, c := range r.Pending() {
		out[c.PairKey] = append(out[c.PairKey], c)
	}
	return out
}

// PendingCount returns the number of queued conflicts.
func (r *Resolver) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// ResolvePending submits a resolution job for every pending conflict whose
// decision is not Skip. Jobs run on the bounded pool; conflicts whose
// identity tuple is already resolving are left for a later call. It returns
// the number of jobs submitted.
func (r *Resolver) ResolvePending(ctx context.Context) int {
	r.mu.Lock()
	var batch []*Conflict
	for _, c := range r.pending {
		if c.Decision == Skip {
			continue
		}
		if r.inFlight[c.key()] {
			continue
		}
		r.inFlight[c.key()] = true
		batch = append(batch, c)
	}
	r.mu.Unlock()

	// FIFO admission: oldest decisions reach the pool first.
	sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })

	for _, c := range batch {
		r.wg.Add(1)
		go func(c *Conflict) {
			defer r.wg.Done()
			defer func() {
				r.mu.Lock()
				delete(r.inFlight, c.key())
				r.mu.Unlock()
			}()

			select {
			case r.slots <- struct{}{}:
				defer func() { <-r.slots }()
			case <-ctx.Done():
				return
			}

			r.execute(ctx, c)
		}(c)
	}
	return len(batch)
}

// CancelAll clears the queue without applying any decision. Jobs already in
// flight run to completion.
func (r *Resolver) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, c := range r.pending {
		if r.inFlight[c.key()] {
			continue
		}
		delete(r.pending, id)
		delete(r.byKey, c.key())
	}
	r.log.Info("pending conflicts cancelled")
}

// Wait blocks until every submitted resolution job has finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

// execute applies the conflict's decision: a put for the transfer directions,
// a delete for Delete. On success the conflict is removed and the resolved
// identity pair is reported; on failure the conflict stays queued with Err
// set rather than being silently dropped.
func (r *Resolver) execute(ctx context.Context, c *Conflict) {
	sourceID, sinkID, err := r.apply(ctx, c)

	r.mu.Lock()
	if err != nil {
		c.Err = err
		r.mu.Unlock()
		r.log.Error("conflict resolution failed", "id", c.ID, "decision", c.Decision.String(), "error", err)
		return
	}
	delete(r.pending, c.ID)
	delete(r.byKey, c.key())
	r.mu.Unlock()

	r.log.Info("conflict resolved", "id", c.ID, "decision", c.Decision.String())

	if r.onResolved != nil {
		if err := r.onResolved(ctx, c.PairKey, sourceID, sinkID); err != nil {
			r.log.Error("recording resolved identity pair", "id", c.ID, "error", err)
		}
	}
}

// apply performs the provider I/O for a decision and returns the surviving
// identity pair.
func (r *Resolver) apply(ctx context.Context, c *Conflict) (sourceID, sinkID string, err error) {
	switch c.Decision {
	case SourceToSink:
		existing := ""
		if c.SinkItem != nil {
			existing = c.SinkItem.UID
		}
		newID, err := c.Sink.Put(ctx, c.SourceData, true, existing)
		if err != nil {
			return "", "", fmt.Errorf("putting %q to %s: %w", c.SourceData.Title, c.Sink.UID(), err)
		}
		return c.SourceItem.UID, newID, nil

	case SinkToSource:
		existing := ""
		if c.SourceItem != nil {
			existing = c.SourceItem.UID
		}
		newID, err := c.Source.Put(ctx, c.SinkData, true, existing)
		if err != nil {
			return "", "", fmt.Errorf("putting %q to %s: %w", c.SinkData.Title, c.Source.UID(), err)
		}
		return newID, c.SinkItem.UID, nil

	case Delete:
		// Remove the surviving copy: the side that still holds the item.
		if c.SinkItem != nil {
			if err := c.Sink.Delete(ctx, c.SinkItem.UID); err != nil {
				return "", "", fmt.Errorf("deleting %q from %s: %w", c.SinkItem.UID, c.Sink.UID(), err)
			}
			return "", c.SinkItem.UID, nil
		}
		if c.SourceItem != nil {
			if err := c.Source.Delete(ctx, c.SourceItem.UID); err != nil {
				return "", "", fmt.Errorf("deleting %q from %s: %w", c.SourceItem.UID, c.Source.UID(), err)
			}
			return c.SourceItem.UID, "", nil
		}
		return "", "", nil

	default:
		return "", "", fmt.Errorf("decision %s cannot be executed", c.Decision)
	}
}
