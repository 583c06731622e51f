package engine

import (
	"github.com/lkoehl/pairsync/internal/conflict"
	"github.com/lkoehl/pairsync/internal/model"
	"github.com/lkoehl/pairsync/internal/provider"
)

// raiseTransfer queues a conflict for two differing candidate versions of
// the same logical item. Both payloads are pre-converted here so resolution
// never needs the type graph; a direction whose conversion is unavailable is
// simply not offered.
func (e *Engine) raiseTransfer(c *Conduit, sink provider.Provider, pair string, srcItem, snkItem *model.Item, cmp model.Comparison) error {
	legal := []conflict.Direction{conflict.Skip}

	sourceData, err := e.convertFor(sink, srcItem)
	if err != nil {
		sourceData = nil
	} else {
		legal = append(legal, conflict.SourceToSink)
	}

	var sinkData *model.Item
	if c.Mode == TwoWay {
		sinkData, err = e.convertForSource(c.Source, snkItem)
		if err != nil {
			sinkData = nil
		} else {
			legal = append(legal, conflict.SinkToSource)
		}
	}

	decision := conflict.Skip
	if c.ConflictPolicy == PolicyReplace {
		// An age that could not be established never yields an automatic
		// overwrite: only a known winner is applied without asking.
		switch {
		case cmp == model.CompareNewer && contains(legal, conflict.SourceToSink):
			decision = conflict.SourceToSink
		case cmp == model.CompareOlder && contains(legal, conflict.SinkToSource):
			decision = conflict.SinkToSource
		}
	}

	return e.raise(&conflict.Conflict{
		PairKey:         pair,
		Source:          c.Source,
		Sink:            sink,
		SourceItem:      srcItem,
		SinkItem:        snkItem,
		SourceData:      sourceData,
		SinkData:        sinkData,
		Decision:        decision,
		LegalDirections: legal,
	}, c)
}

// raiseMissing queues a conflict for an item present on only one side, when
// the missing-item policy is ask.
func (e *Engine) raiseMissing(c *Conduit, sink provider.Provider, pair string, item *model.Item, onSource bool) error {
	cf := &conflict.Conflict{
		PairKey:         pair,
		Source:          c.Source,
		Sink:            sink,
		Decision:        conflict.Skip,
		LegalDirections: []conflict.Direction{conflict.Skip},
	}

	if onSource {
		cf.SourceItem = item
		if data, err := e.convertFor(sink, item); err == nil {
			cf.SourceData = data
			cf.LegalDirections = append(cf.LegalDirections, conflict.SourceToSink)
		}
	} else {
		cf.SinkItem = item
		if data, err := e.convertForSource(c.Source, item); err == nil {
			cf.SinkData = data
			cf.LegalDirections = append(cf.LegalDirections, conflict.SinkToSource)
		}
	}

	return e.raise(cf, c)
}

// raiseDeletion queues a conflict for a tracked item that vanished from one
// side. The surviving copy can be deleted too, resurrected on the side that
// lost it, or left alone.
func (e *Engine) raiseDeletion(c *Conduit, sink provider.Provider, pair string, survivor *model.Item, survivorOnSource bool) error {
	cf := &conflict.Conflict{
		PairKey:         pair,
		Source:          c.Source,
		Sink:            sink,
		IsDeletion:      true,
		Decision:        conflict.Skip,
		LegalDirections: []conflict.Direction{conflict.Skip, conflict.Delete},
	}

	if survivorOnSource {
		cf.SourceItem = survivor
		if data, err := e.convertFor(sink, survivor); err == nil {
			cf.SourceData = data
			cf.LegalDirections = append(cf.LegalDirections, conflict.SourceToSink)
		}
	} else {
		cf.SinkItem = survivor
		if data, err := e.convertForSource(c.Source, survivor); err == nil {
			cf.SinkData = data
			cf.LegalDirections = append(cf.LegalDirections, conflict.SinkToSource)
		}
	}

	return e.raise(cf, c)
}

// raise hands the conflict to the resolver and emits the notification.
func (e *Engine) raise(cf *conflict.Conflict, c *Conduit) error {
	id, err := e.conflicts.Raise(cf)
	if err != nil {
		return err
	}
	e.emit(Event{Kind: EventConflict, Conduit: c.Name, ConflictID: id})
	return nil
}

func contains(dirs []conflict.Direction, d conflict.Direction) bool {
	for _, x := range dirs {
		if x == d {
			return true
		}
	}
	return false
}
