// Package provider defines the contract every data provider implements, the
// per-run status values the engine reports for each participant, and an
// explicit factory registry providers are wired into at startup.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lkoehl/pairsync/internal/model"
)

// Provider is the five-operation contract between the engine and a data
// source or sink. Implementations own their items until handed to the
// engine; handed-over items are immutable.
//
// Refresh is called once at the start of a run, Finish exactly once at the
// end, success or failure. NumItems and Get serve the one-way algorithm;
// GetAll serves two-way providers.
type Provider interface {
	// Refresh re-reads the provider's backing collection. An unrecoverable
	// failure is reported as a *RefreshError.
	Refresh(ctx context.Context) error

	// NumItems returns the current item count after a Refresh.
	NumItems(ctx context.Context) (int, error)

	// Get returns the item at the given refresh-stable index.
	Get(ctx context.Context, index int) (*model.Item, error)

	// GetAll returns a snapshot of every item.
	GetAll(ctx context.Context) ([]*model.Item, error)

	// Put stores item and returns its id on this provider. With
	// overwrite=false a clash with an existing, comparably-new item is
	// reported as a *ConflictError rather than applied. existingID, when
	// non-empty, names the item to replace.
	Put(ctx context.Context, item *model.Item, overwrite bool, existingID string) (string, error)

	// Delete removes the item with the given id.
	Delete(ctx context.Context, id string) error

	// Finish releases per-run resources and commits provider-side
	// bookkeeping.
	Finish(ctx context.Context) error

	// UID returns the stable provider-instance identity used to build
	// relationship-store pair keys.
	UID() string
}

// Typed is an optional interface for providers that declare the item type
// they accept and produce. The engine converts items to a sink's declared
// type before Put; items pass through unconverted for untyped providers.
type Typed interface {
	ItemType() string
}

// Watcher is an optional interface for providers that can report external
// changes to their collection. Daemon mode uses it to trigger a resync
// without waiting for the next poll.
type Watcher interface {
	// Watch invokes notify whenever the backing collection changes, until
	// ctx is cancelled.
	Watch(ctx context.Context, notify func()) error
}

// PairKey builds the ordered pair key for a source/sink combination. The
// order matters: comparisons and relationship records are always evaluated
// from the source's perspective.
func PairKey(source, sink Provider) string {
	return source.UID() + "→" + sink.UID()
}

// --- Status ------------------------------------------------------------------

// Status is the per-participant outcome of one sync run.
type Status int

const (
	// StatusOK indicates every item was handled cleanly.
	StatusOK Status = iota
	// StatusSkipped indicates at least one item was skipped.
	StatusSkipped
	// StatusConflict indicates at least one conflict was raised.
	StatusConflict
	// StatusError indicates at least one item or the provider itself failed.
	StatusError
	// StatusCancelled indicates the run was cancelled before this
	// participant finished.
	StatusCancelled
)

// String returns the wire label used in logs and status output.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "doneOk"
	case StatusSkipped:
		return "doneSkipped"
	case StatusConflict:
		return "doneConflict"
	case StatusError:
		return "doneError"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Worse returns the worse of two statuses: error > conflict > skipped > ok.
// Cancelled always wins, since it describes the run, not an item.
func (s Status) Worse(other Status) Status {
	if s == StatusCancelled || other == StatusCancelled {
		return StatusCancelled
	}
	if other > s {
		return other
	}
	return s
}

// --- Errors ------------------------------------------------------------------

// ErrBroken is wrapped by providers that detect an unrecoverable internal
// failure mid-run. The engine aborts the whole conduit when it sees it.
var ErrBroken = errors.New("provider reported itself broken")

// RefreshError reports an unrecoverable Refresh failure. On the source side
// it aborts the whole conduit; on a sink it only excludes that sink.
type RefreshError struct {
	Provider string
	Cause    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refreshing %s: %v", e.Provider, e.Cause)
}

func (e *RefreshError) Unwrap() error { return e.Cause }

// ConflictError is returned by Put with overwrite=false when the provider
// already holds a comparably-new item under the same identity. The engine
// forwards it to the conflict resolver instead of retrying.
type ConflictError struct {
	Comparison model.Comparison
	FromItem   *model.Item
	ToItem     *model.Item
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("put rejected: existing item %q compares %s", e.ToItem.UID, e.Comparison)
}

// --- Registry ----------------------------------------------------------------

// Factory constructs a provider instance from its configured options.
type Factory func(instanceName string, options map[string]string, logger *slog.Logger) (Provider, error)

// Registry is the explicit table of provider factories built at startup.
// No runtime introspection: a provider type exists iff it was registered.
// Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given type name, replacing any previous
// registration for that name.
func (r *Registry) Register(typeName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = f
}

// New instantiates a provider of the given type.
func (r *Registry) New(typeName, instanceName string, options map[string]string, logger *slog.Logger) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q", typeName)
	}
	return f(instanceName, options, logger)
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
