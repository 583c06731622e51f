package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lkoehl/pairsync/internal/model"
	"github.com/lkoehl/pairsync/internal/provider"
	"github.com/lkoehl/pairsync/internal/typegraph"
)

// twoWay reconciles the source with one sink in both directions. Both sides
// are materialised as full id→item snapshots before classification: every id
// lands in exactly one of tracked-pair, missing-from-sink, or
// missing-from-source. A returned error aborts the whole conduit; sink-local
// failures mark the sink and return nil.
func (e *Engine) twoWay(ctx context.Context, c *Conduit, sink provider.Provider, st *statusTracker) (Stats, error) {
	var stats Stats
	pair := provider.PairKey(c.Source, sink)

	srcItems, err := c.Source.GetAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing source items: %w", err)
	}
	snkItems, err := sink.GetAll(ctx)
	if err != nil {
		// Fatal to this sink only.
		e.log.Error("listing sink items", "conduit", c.Name, "sink", sink.UID(), "error", err)
		st.upgrade(sink.UID(), provider.StatusError)
		stats.Errors++
		return stats, nil
	}

	srcByUID := make(map[string]*model.Item, len(srcItems))
	for _, item := range srcItems {
		srcByUID[item.UID] = item
	}
	snkByUID := make(map[string]*model.Item, len(snkItems))
	for _, item := range snkItems {
		snkByUID[item.UID] = item
	}

	rels, err := e.store.GetRelationships(ctx, pair)
	if err != nil {
		return stats, err
	}

	consumedSrc := make(map[string]bool)
	consumedSnk := make(map[string]bool)

	// 1. Tracked pairs, in stable order.
	srcIDs := make([]string, 0, len(rels))
	for idA := range rels {
		srcIDs = append(srcIDs, idA)
	}
	sort.Strings(srcIDs)

	for _, idA := range srcIDs {
		for _, idB := range rels[idA] {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			consumedSrc[idA] = true
			consumedSnk[idB] = true

			srcItem, srcOK := srcByUID[idA]
			snkItem, snkOK := snkByUID[idB]

			switch {
			case srcOK && snkOK:
				if err := e.reconcilePair(ctx, c, sink, pair, srcItem, snkItem, &stats, st); err != nil {
					return stats, err
				}
			case srcOK && !snkOK:
				if err := e.handleDeletion(ctx, c, sink, pair, srcItem, true, &stats, st); err != nil {
					return stats, err
				}
			case !srcOK && snkOK:
				if err := e.handleDeletion(ctx, c, sink, pair, snkItem, false, &stats, st); err != nil {
					return stats, err
				}
			default:
				// Gone on both sides: the record is stale.
				if err := e.store.DeleteRelationship(ctx, pair, idA); err != nil {
					return stats, err
				}
			}
		}
	}

	// 2. Source items the store has never seen: missing from sink.
	for _, item := range srcItems {
		if consumedSrc[item.UID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := e.handleMissing(ctx, c, sink, pair, item, true, &stats, st); err != nil {
			return stats, err
		}
	}

	// 3. Sink items the store has never seen: missing from source.
	for _, item := range snkItems {
		if consumedSnk[item.UID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := e.handleMissing(ctx, c, sink, pair, item, false, &stats, st); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

// reconcilePair handles an item present on both sides. The comparison is
// evaluated from the source's perspective; an Unknown outcome always raises
// a conflict because no safe default exists.
func (e *Engine) reconcilePair(ctx context.Context, c *Conduit, sink provider.Provider, pair string, srcItem, snkItem *model.Item, stats *Stats, st *statusTracker) error {
	// Compare in the source's type when a conversion exists; otherwise the
	// raw items still order by mtime.
	compareAgainst := snkItem
	if converted, err := e.convertForSource(c.Source, snkItem); err == nil {
		compareAgainst = converted
	}
	cmp := e.graph.Comparator(srcItem.Type)(srcItem, compareAgainst)

	switch cmp {
	case model.CompareEqual:
		return nil

	case model.CompareUnknown:
		if err := e.raiseTransfer(c, sink, pair, srcItem, snkItem, cmp); err != nil {
			return err
		}
		st.upgrade(c.Source.UID(), provider.StatusConflict)
		st.upgrade(sink.UID(), provider.StatusConflict)
		stats.Conflicts++
		return nil

	default: // Newer or Older
		switch c.ConflictPolicy {
		case PolicySkip:
			st.upgrade(sink.UID(), provider.StatusSkipped)
			stats.Skipped++
			return nil
		case PolicyAsk:
			if err := e.raiseTransfer(c, sink, pair, srcItem, snkItem, cmp); err != nil {
				return err
			}
			st.upgrade(c.Source.UID(), provider.StatusConflict)
			st.upgrade(sink.UID(), provider.StatusConflict)
			stats.Conflicts++
			return nil
		default: // PolicyReplace
			if cmp == model.CompareNewer {
				return e.transfer(ctx, c, sink, pair, srcItem, snkItem, true, stats, st)
			}
			return e.transfer(ctx, c, sink, pair, srcItem, snkItem, false, stats, st)
		}
	}
}

// transfer overwrites the loser's copy with the winner's and refreshes the
// relationship record when the overwritten side's id changed.
func (e *Engine) transfer(ctx context.Context, c *Conduit, sink provider.Provider, pair string, srcItem, snkItem *model.Item, sourceWins bool, stats *Stats, st *statusTracker) error {
	var (
		dest    provider.Provider
		destUID string
		out     *model.Item
		convErr error
	)
	if sourceWins {
		dest, destUID = sink, snkItem.UID
		out, convErr = e.convertFor(sink, srcItem)
	} else {
		dest, destUID = c.Source, srcItem.UID
		out, convErr = e.convertForSource(c.Source, snkItem)
	}

	if convErr != nil {
		if errors.Is(convErr, typegraph.ErrConversionUnavailable) {
			st.upgrade(dest.UID(), provider.StatusSkipped)
			stats.Skipped++
			return nil
		}
		e.log.Error("converting item for transfer", "conduit", c.Name, "uid", srcItem.UID, "error", convErr)
		st.upgrade(dest.UID(), provider.StatusError)
		stats.Errors++
		return nil
	}

	newID, err := dest.Put(ctx, out, true, destUID)
	if err != nil {
		if errors.Is(err, provider.ErrBroken) {
			return fmt.Errorf("provider %s: %w", dest.UID(), err)
		}
		e.log.Error("overwriting item", "conduit", c.Name, "uid", destUID, "provider", dest.UID(), "error", err)
		st.upgrade(dest.UID(), provider.StatusError)
		stats.Errors++
		return nil
	}
	stats.Put++

	if newID != destUID {
		// The overwritten side assigned a fresh id: supersede the record.
		if err := e.store.DeleteRelationship(ctx, pair, destUID); err != nil {
			return err
		}
	}
	if sourceWins {
		return e.store.SaveRelationship(ctx, pair, srcItem.UID, newID)
	}
	return e.store.SaveRelationship(ctx, pair, newID, snkItem.UID)
}

// handleDeletion handles a tracked item that vanished from one side.
// survivorOnSource reports which side still holds the copy.
func (e *Engine) handleDeletion(ctx context.Context, c *Conduit, sink provider.Provider, pair string, survivor *model.Item, survivorOnSource bool, stats *Stats, st *statusTracker) error {
	holder := sink
	if survivorOnSource {
		holder = c.Source
	}

	switch c.ConflictPolicy {
	case PolicySkip:
		st.upgrade(holder.UID(), provider.StatusSkipped)
		stats.Skipped++
		return nil

	case PolicyReplace:
		if err := holder.Delete(ctx, survivor.UID); err != nil {
			if errors.Is(err, provider.ErrBroken) {
				return fmt.Errorf("provider %s: %w", holder.UID(), err)
			}
			e.log.Error("propagating deletion", "conduit", c.Name, "uid", survivor.UID, "provider", holder.UID(), "error", err)
			st.upgrade(holder.UID(), provider.StatusError)
			stats.Errors++
			return nil
		}
		stats.Deleted++
		return e.store.DeleteRelationship(ctx, pair, survivor.UID)

	default: // PolicyAsk
		if err := e.raiseDeletion(c, sink, pair, survivor, survivorOnSource); err != nil {
			return err
		}
		st.upgrade(c.Source.UID(), provider.StatusConflict)
		st.upgrade(sink.UID(), provider.StatusConflict)
		stats.Conflicts++
		return nil
	}
}

// handleMissing handles an item present on one side with no relationship
// record: a genuinely new item from the other side's point of view.
func (e *Engine) handleMissing(ctx context.Context, c *Conduit, sink provider.Provider, pair string, item *model.Item, onSource bool, stats *Stats, st *statusTracker) error {
	dest := sink
	convert := e.convertFor
	if !onSource {
		dest = c.Source
		convert = e.convertForSource
	}

	switch c.MissingPolicy {
	case PolicySkip:
		st.upgrade(dest.UID(), provider.StatusSkipped)
		stats.Skipped++
		return nil

	case PolicyAsk:
		if err := e.raiseMissing(c, sink, pair, item, onSource); err != nil {
			return err
		}
		st.upgrade(c.Source.UID(), provider.StatusConflict)
		st.upgrade(sink.UID(), provider.StatusConflict)
		stats.Conflicts++
		return nil

	default: // PolicyReplace
		out, err := convert(dest, item)
		if err != nil {
			if errors.Is(err, typegraph.ErrConversionUnavailable) {
				st.upgrade(dest.UID(), provider.StatusSkipped)
				stats.Skipped++
				return nil
			}
			e.log.Error("converting missing item", "conduit", c.Name, "uid", item.UID, "error", err)
			st.upgrade(dest.UID(), provider.StatusError)
			stats.Errors++
			return nil
		}

		newID, err := dest.Put(ctx, out, false, "")
		if err != nil {
			var ce *provider.ConflictError
			switch {
			case errors.As(err, &ce):
				// An untracked item clashed with something already there. The
				// provider compared from the incoming item's perspective, so a
				// clash on the source side needs the ordering flipped before it
				// is raised source-first.
				if onSource {
					err = e.raiseTransfer(c, sink, pair, item, ce.ToItem, ce.Comparison)
				} else {
					err = e.raiseTransfer(c, sink, pair, ce.ToItem, item, invert(ce.Comparison))
				}
				if err != nil {
					return err
				}
				st.upgrade(c.Source.UID(), provider.StatusConflict)
				st.upgrade(sink.UID(), provider.StatusConflict)
				stats.Conflicts++
				return nil
			case errors.Is(err, provider.ErrBroken):
				return fmt.Errorf("provider %s: %w", dest.UID(), err)
			default:
				e.log.Error("pushing missing item", "conduit", c.Name, "uid", item.UID, "provider", dest.UID(), "error", err)
				st.upgrade(dest.UID(), provider.StatusError)
				stats.Errors++
				return nil
			}
		}

		stats.Put++
		if onSource {
			return e.store.SaveRelationship(ctx, pair, item.UID, newID)
		}
		return e.store.SaveRelationship(ctx, pair, newID, item.UID)
	}
}

// invert flips a comparison to the other side's perspective.
func invert(c model.Comparison) model.Comparison {
	switch c {
	case model.CompareNewer:
		return model.CompareOlder
	case model.CompareOlder:
		return model.CompareNewer
	default:
		return c
	}
}
