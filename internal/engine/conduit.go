package engine

import (
	"fmt"

	"github.com/lkoehl/pairsync/internal/provider"
)

// Mode selects how much work a conduit run performs.
type Mode int

const (
	// RefreshOnly refreshes every participant and stops.
	RefreshOnly Mode = iota
	// OneWay pushes source items to each sink.
	OneWay
	// TwoWay reconciles source and sinks in both directions.
	TwoWay
)

// String returns the config-file spelling of the mode.
func (m Mode) String() string {
	switch m {
	case RefreshOnly:
		return "refresh"
	case OneWay:
		return "one-way"
	case TwoWay:
		return "two-way"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a config-file spelling into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "refresh":
		return RefreshOnly, nil
	case "one-way":
		return OneWay, nil
	case "two-way":
		return TwoWay, nil
	default:
		return 0, fmt.Errorf("unknown sync mode %q (want refresh, one-way, or two-way)", s)
	}
}

// Policy controls how conflicts and missing items are handled before a human
// is involved.
type Policy int

const (
	// PolicySkip leaves the affected item untouched.
	PolicySkip Policy = iota
	// PolicyAsk queues a conflict for an explicit decision.
	PolicyAsk
	// PolicyReplace applies the change unconditionally.
	PolicyReplace
)

// String returns the config-file spelling of the policy.
func (p Policy) String() string {
	switch p {
	case PolicySkip:
		return "skip"
	case PolicyAsk:
		return "ask"
	case PolicyReplace:
		return "replaceUnconditionally"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts a config-file spelling into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "skip":
		return PolicySkip, nil
	case "ask":
		return PolicyAsk, nil
	case "replaceUnconditionally":
		return PolicyReplace, nil
	default:
		return 0, fmt.Errorf("unknown policy %q (want skip, ask, or replaceUnconditionally)", s)
	}
}

// Conduit is one configured pairing of a source provider with one or more
// sink providers plus sync settings. Sinks are processed in slice order.
type Conduit struct {
	Name           string
	Source         provider.Provider
	Sinks          []provider.Provider
	Mode           Mode
	ConflictPolicy Policy
	MissingPolicy  Policy
}

// SyncState is the phase a conduit worker is currently in. Exactly one
// worker owns a conduit's state at a time.
type SyncState int

const (
	// StateRefreshing covers the initial refresh of every participant.
	StateRefreshing SyncState = iota
	// StateSyncing covers the one-way or two-way item pass.
	StateSyncing
	// StateDone covers status finalisation and Finish calls.
	StateDone
)

// String returns the human-readable label for the state.
func (s SyncState) String() string {
	switch s {
	case StateRefreshing:
		return "refreshing"
	case StateSyncing:
		return "syncing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats counts the item outcomes of one conduit run.
type Stats struct {
	Put       int
	Deleted   int
	Skipped   int
	Conflicts int
	Errors    int
}

// add accumulates per-sink stats into the run total.
func (s *Stats) add(other Stats) {
	s.Put += other.Put
	s.Deleted += other.Deleted
	s.Skipped += other.Skipped
	s.Conflicts += other.Conflicts
	s.Errors += other.Errors
}

// EventKind discriminates engine events.
type EventKind int

const (
	// EventStatus reports a participant's status change.
	EventStatus EventKind = iota
	// EventConflict reports a newly queued conflict.
	EventConflict
	// EventRunDone reports that a conduit run finished.
	EventRunDone
)

// Event is one engine notification: a provider status change, a raised
// conflict, or run completion.
type Event struct {
	Kind       EventKind
	Conduit    string
	Provider   string // provider instance UID, empty for run-level events
	Status     provider.Status
	ConflictID uint64
	Stats      Stats // populated for EventRunDone
}

// RunSummary is delivered on the channel returned by [Engine.Sync] when the
// conduit's worker finishes.
type RunSummary struct {
	Conduit  string
	Stats    Stats
	Statuses map[string]provider.Status // provider UID → final status
	Err      error                      // non-nil when the conduit aborted
}
