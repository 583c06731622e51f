// Package engine implements the per-conduit synchronization state machine:
// refresh both sides, compare, transfer, route undecidable pairs to the
// conflict resolver, and finish with per-participant statuses.
//
// Each active conduit is driven by one background worker goroutine that owns
// its state and item snapshots; no conduit-level state is shared between
// workers. Output is a channel of [Event] values, consumable without any UI
// event loop.
package engine

import (
	"context"

	"github.com/lkoehl/pairsync/internal/conflict"
)

// RelationshipStore provides the identity-mapping operations the engine
// needs. Implemented by [relstore.Store].
type RelationshipStore interface {
	SaveRelationship(ctx context.Context, pairKey, idA, idB string) error
	GetRelationships(ctx context.Context, pairKey string) (map[string][]string, error)
	GetMatchingIDs(ctx context.Context, pairKey, id string, bidirectional bool) ([]string, error)
	DeleteRelationship(ctx context.Context, pairKey, id string) error
	Commit(ctx context.Context) error
}

// ConflictQueue receives the conflicts the engine cannot silently reconcile.
// Implemented by [conflict.Resolver].
type ConflictQueue interface {
	Raise(c *conflict.Conflict) (uint64, error)
}
