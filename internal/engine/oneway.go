package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/lkoehl/pairsync/internal/model"
	"github.com/lkoehl/pairsync/internal/provider"
	"github.com/lkoehl/pairsync/internal/typegraph"
)

// oneWay pushes every source item to one sink. Item-level failures mark the
// item and continue; a returned error aborts the whole conduit (broken sink,
// unusable relationship store, cancellation).
func (e *Engine) oneWay(ctx context.Context, c *Conduit, sink provider.Provider, count int, st *statusTracker) (Stats, error) {
	var stats Stats
	pair := provider.PairKey(c.Source, sink)

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		item, err := c.Source.Get(ctx, i)
		if err != nil {
			e.log.Error("fetching source item", "conduit", c.Name, "index", i, "error", err)
			st.upgrade(c.Source.UID(), provider.StatusError)
			stats.Errors++
			continue
		}

		out, err := e.convertFor(sink, item)
		if err != nil {
			if errors.Is(err, typegraph.ErrConversionUnavailable) {
				e.log.Debug("no conversion for item, skipping",
					"conduit", c.Name, "uid", item.UID, "type", item.Type)
				st.upgrade(sink.UID(), provider.StatusSkipped)
				stats.Skipped++
				continue
			}
			e.log.Error("converting item", "conduit", c.Name, "uid", item.UID, "error", err)
			st.upgrade(sink.UID(), provider.StatusError)
			stats.Errors++
			continue
		}

		existing, err := e.knownSinkID(ctx, pair, item.UID)
		if err != nil {
			return stats, err
		}

		newID, err := sink.Put(ctx, out, false, existing)
		if err != nil {
			var ce *provider.ConflictError
			switch {
			case errors.As(err, &ce):
				if raiseErr := e.raiseTransfer(c, sink, pair, item, ce.ToItem, ce.Comparison); raiseErr != nil {
					e.log.Error("raising conflict", "conduit", c.Name, "uid", item.UID, "error", raiseErr)
					stats.Errors++
					continue
				}
				st.upgrade(c.Source.UID(), provider.StatusConflict)
				st.upgrade(sink.UID(), provider.StatusConflict)
				stats.Conflicts++
			case errors.Is(err, provider.ErrBroken):
				return stats, fmt.Errorf("sink %s: %w", sink.UID(), err)
			default:
				e.log.Error("putting item", "conduit", c.Name, "uid", item.UID, "sink", sink.UID(), "error", err)
				st.upgrade(sink.UID(), provider.StatusError)
				stats.Errors++
			}
			continue
		}

		stats.Put++
		if err := e.store.SaveRelationship(ctx, pair, item.UID, newID); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// knownSinkID returns the sink-side id already mapped to the source item,
// if any. Store failures are fatal: without identity continuity the run
// cannot safely continue.
func (e *Engine) knownSinkID(ctx context.Context, pair, sourceUID string) (string, error) {
	ids, err := e.store.GetMatchingIDs(ctx, pair, sourceUID, false)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// convertFor converts an item into the sink's declared type. Untyped sinks
// take items as-is.
func (e *Engine) convertFor(sink provider.Provider, item *model.Item) (*model.Item, error) {
	typed, ok := sink.(provider.Typed)
	if !ok || typed.ItemType() == item.Type {
		return item, nil
	}
	return e.graph.Convert(item.Type, typed.ItemType(), item)
}

// convertForSource converts an item into the source's declared type, for
// comparisons and sink→source transfers.
func (e *Engine) convertForSource(source provider.Provider, item *model.Item) (*model.Item, error) {
	typed, ok := source.(provider.Typed)
	if !ok || typed.ItemType() == item.Type {
		return item, nil
	}
	return e.graph.Convert(item.Type, typed.ItemType(), item)
}
