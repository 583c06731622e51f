// Package model defines shared types used across the sync engine, the
// type-conversion graph, and provider adapters.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ChangeKind describes how a provider classified an item relative to its own
// prior state. Providers that cannot diff report ChangeUnknown.
type ChangeKind int

const (
	// ChangeUnknown indicates the provider did not classify the item.
	ChangeUnknown ChangeKind = iota
	// ChangeUnmodified indicates the item is unchanged since the last run.
	ChangeUnmodified
	// ChangeAdded indicates the item is new since the last run.
	ChangeAdded
	// ChangeModified indicates the item changed since the last run.
	ChangeModified
	// ChangeDeleted indicates the item was removed since the last run.
	ChangeDeleted
)

// String returns the human-readable label for the change kind.
func (c ChangeKind) String() string {
	switch c {
	case ChangeUnmodified:
		return "unmodified"
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Item is the normalised representation of one logical item as produced by a
// provider. Items are immutable value objects: the engine reads and forwards
// them but never mutates one in place.
type Item struct {
	// UID is the provider-local identifier, unique within that provider and
	// stable across refreshes of the same logical item. Empty only before an
	// item's first commit.
	UID string

	// Type is the registered type name of the payload (e.g. "note", "file",
	// "text"). Conversions between types go through the typegraph.
	Type string

	// Title is a short human-readable label used in conflict summaries.
	Title string

	// Payload is the opaque serialised content.
	Payload []byte

	// Mtime is the last-modified time reported by the provider. Nil means the
	// provider has no reliable timestamp, which forces Unknown comparisons.
	Mtime *time.Time

	// Change is the provider's own classification of the item, when it can
	// diff against its previous state.
	Change ChangeKind
}

// ContentHash returns a deterministic SHA-256 hex digest of the fields that
// matter for equality: type, title, and payload. Mtime is intentionally
// excluded — it is used for ordering, not change detection.
func (i *Item) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(i.Type))
	h.Write([]byte("|"))
	h.Write([]byte(i.Title))
	h.Write([]byte("|"))
	h.Write(i.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

// WithUID returns a copy of the item carrying the given UID. Providers use it
// after a Put assigns a fresh identifier.
func (i Item) WithUID(uid string) *Item {
	i.UID = uid
	return &i
}

// Comparison is the outcome of ordering two candidate versions of an item.
// It is always evaluated from the source's perspective: Newer means the
// source item is newer than the sink item.
type Comparison int

const (
	// CompareUnknown indicates no safe ordering could be established.
	CompareUnknown Comparison = iota
	// CompareOlder indicates the source item is older than the sink item.
	CompareOlder
	// CompareNewer indicates the source item is newer than the sink item.
	CompareNewer
	// CompareEqual indicates both items carry the same content.
	CompareEqual
)

// String returns the human-readable label for the comparison.
func (c Comparison) String() string {
	switch c {
	case CompareOlder:
		return "older"
	case CompareNewer:
		return "newer"
	case CompareEqual:
		return "equal"
	default:
		return "unknown"
	}
}

// CompareFunc orders a source item against a sink item.
type CompareFunc func(source, sink *Item) Comparison

// Compare is the default ordering function. Identical content hashes compare
// Equal regardless of timestamps; otherwise both items need an Mtime to be
// ordered, and a missing timestamp on either side yields Unknown.
func Compare(source, sink *Item) Comparison {
	if source.ContentHash() == sink.ContentHash() {
		return CompareEqual
	}
	if source.Mtime == nil || sink.Mtime == nil {
		return CompareUnknown
	}
	switch {
	case source.Mtime.After(*sink.Mtime):
		return CompareNewer
	case source.Mtime.Before(*sink.Mtime):
		return CompareOlder
	default:
		// Same timestamp but different content: no safe winner.
		return CompareUnknown
	}
}
