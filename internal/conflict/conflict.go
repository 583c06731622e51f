// Package conflict holds the value type for an undecided item pair and the
// resolver that applies user or policy decisions through a bounded worker
// pool.
package conflict

import (
	"fmt"

	"github.com/lkoehl/pairsync/internal/model"
	"github.com/lkoehl/pairsync/internal/provider"
)

// Direction is a decision that can be applied to a conflict.
type Direction int

const (
	// Skip leaves both sides untouched. Always legal.
	Skip Direction = iota
	// SourceToSink overwrites the sink's copy with the source's.
	SourceToSink
	// SinkToSource overwrites the source's copy with the sink's.
	SinkToSource
	// Delete removes the surviving copy of an item the other side deleted.
	Delete
)

// String returns the human-readable label for the direction.
func (d Direction) String() string {
	switch d {
	case Skip:
		return "skip"
	case SourceToSink:
		return "source→sink"
	case SinkToSource:
		return "sink→source"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Conflict is one undecided item pair: the two candidate versions, the
// providers they came from, and the set of decisions currently legal for it.
// LegalDirections is fixed when the conflict is raised and never grows.
type Conflict struct {
	// ID is assigned by the resolver when the conflict is raised.
	ID uint64

	// PairKey identifies the ordered source→sink provider pair.
	PairKey string

	// Source and Sink are the providers holding the two candidates.
	Source provider.Provider
	Sink   provider.Provider

	// SourceItem and SinkItem are the raw candidates as each provider
	// produced them. Either may be nil for deletion conflicts.
	SourceItem *model.Item
	SinkItem   *model.Item

	// SourceData is SourceItem converted into the sink's type, ready to Put;
	// SinkData is the reverse. Conversion happens when the conflict is
	// raised so resolution never needs the type graph.
	SourceData *model.Item
	SinkData   *model.Item

	// Decision is the currently selected direction. Must always be a member
	// of LegalDirections.
	Decision Direction

	// LegalDirections lists the decisions that make sense for this conflict,
	// in presentation order.
	LegalDirections []Direction

	// IsDeletion marks a conflict where one side deleted the item.
	IsDeletion bool

	// Err records the most recent failed resolution attempt, if any.
	Err error
}

// Allows reports whether d is a member of the conflict's legal directions.
func (c *Conflict) Allows(d Direction) bool {
	for _, legal := range c.LegalDirections {
		if legal == d {
			return true
		}
	}
	return false
}

// key is the coalescing identity: at most one resolution job per key runs at
// a time, and a second raise for the same key is folded into the first.
func (c *Conflict) key() string {
	srcUID, snkUID := "", ""
	if c.SourceItem != nil {
		srcUID = c.SourceItem.UID
	}
	if c.SinkItem != nil {
		snkUID = c.SinkItem.UID
	}
	return fmt.Sprintf("%s|%s|%s|%t", c.PairKey, srcUID, snkUID, c.IsDeletion)
}

// Summary returns a one-line description for logs and prompts.
func (c *Conflict) Summary() string {
	title := "(deleted)"
	switch {
	case c.SourceItem != nil:
		title = c.SourceItem.Title
	case c.SinkItem != nil:
		title = c.SinkItem.Title
	}
	if c.IsDeletion {
		return fmt.Sprintf("%s: %q deleted on one side", c.PairKey, title)
	}
	return fmt.Sprintf("%s: %q differs on both sides", c.PairKey, title)
}
