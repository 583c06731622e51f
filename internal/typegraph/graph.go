// Package typegraph maintains the registry of item-type conversion functions
// that lets providers with mismatched item formats interoperate. Conversions
// form a directed graph over type names with "text" as a distinguished hub:
// when no direct edge exists, a two-hop path through text is tried.
//
// A Graph is populated during startup and then frozen. After [Graph.Freeze]
// it is immutable and safe for unsynchronised concurrent reads.
package typegraph

import (
	"errors"
	"fmt"

	"github.com/lkoehl/pairsync/internal/model"
)

// TextType is the hub type used for two-hop fallback conversions.
const TextType = "text"

// ErrConversionUnavailable is returned by [Graph.Convert] when neither a
// direct edge nor a two-hop text path connects the requested types.
var ErrConversionUnavailable = errors.New("no conversion path between types")

// ConversionFailedError wraps a panic-free failure inside a registered
// conversion function. The engine treats it as an item-level error.
type ConversionFailedError struct {
	From  string
	To    string
	Cause error
}

func (e *ConversionFailedError) Error() string {
	return fmt.Sprintf("converting %s → %s: %v", e.From, e.To, e.Cause)
}

func (e *ConversionFailedError) Unwrap() error { return e.Cause }

// ConvertFunc transforms an item of one type into an item of another.
// Implementations must not mutate the input item.
type ConvertFunc func(item *model.Item) (*model.Item, error)

type edgeKey struct {
	from string
	to   string
}

// Graph is the conversion-edge registry. Register edges at startup, call
// Freeze once wiring is complete, then share the graph freely.
type Graph struct {
	edges       map[edgeKey]ConvertFunc
	comparators map[string]model.CompareFunc
	frozen      bool
}

// New returns an empty, unfrozen graph.
func New() *Graph {
	return &Graph{
		edges:       make(map[edgeKey]ConvertFunc),
		comparators: make(map[string]model.CompareFunc),
	}
}

// Register adds (or silently overwrites — last registration wins) the edge
// from → to. It panics if called after Freeze: the graph must be immutable
// once the engine starts.
func (g *Graph) Register(from, to string, fn ConvertFunc) {
	if g.frozen {
		panic("typegraph: Register called after Freeze")
	}
	g.edges[edgeKey{from, to}] = fn
}

// RegisterComparator installs a type-specific ordering function used by the
// two-way algorithm. Types without one fall back to [model.Compare].
// Panics after Freeze, like Register.
func (g *Graph) RegisterComparator(typeName string, fn model.CompareFunc) {
	if g.frozen {
		panic("typegraph: RegisterComparator called after Freeze")
	}
	g.comparators[typeName] = fn
}

// Freeze marks the graph immutable. Idempotent.
func (g *Graph) Freeze() {
	g.frozen = true
}

// Comparator returns the ordering function for the given type.
func (g *Graph) Comparator(typeName string) model.CompareFunc {
	if fn, ok := g.comparators[typeName]; ok {
		return fn
	}
	return model.Compare
}

// ConversionExists reports whether from can become to: trivially when the
// names are equal, via a direct edge, or (when allowViaText) via the two-hop
// path from → text → to.
func (g *Graph) ConversionExists(from, to string, allowViaText bool) bool {
	if from == to {
		return true
	}
	if _, ok := g.edges[edgeKey{from, to}]; ok {
		return true
	}
	if !allowViaText {
		return false
	}
	_, hasOut := g.edges[edgeKey{from, TextType}]
	_, hasIn := g.edges[edgeKey{TextType, to}]
	return hasOut && hasIn
}

// Convert returns item unchanged when the types are equal, applies the direct
// edge when one exists, and otherwise falls back to the two-hop text path.
// It returns [ErrConversionUnavailable] when no path exists and wraps any
// failure inside a conversion function in a [*ConversionFailedError].
func (g *Graph) Convert(from, to string, item *model.Item) (*model.Item, error) {
	if from == to {
		return item, nil
	}

	if fn, ok := g.edges[edgeKey{from, to}]; ok {
		return g.apply(from, to, fn, item)
	}

	toText, ok := g.edges[edgeKey{from, TextType}]
	if !ok {
		return nil, fmt.Errorf("%s → %s: %w", from, to, ErrConversionUnavailable)
	}
	fromText, ok := g.edges[edgeKey{TextType, to}]
	if !ok {
		return nil, fmt.Errorf("%s → %s: %w", from, to, ErrConversionUnavailable)
	}

	mid, err := g.apply(from, TextType, toText, item)
	if err != nil {
		return nil, err
	}
	return g.apply(TextType, to, fromText, mid)
}

// apply runs one edge, wrapping failures so they are attributable to the
// exact hop that broke.
func (g *Graph) apply(from, to string, fn ConvertFunc, item *model.Item) (*model.Item, error) {
	out, err := fn(item)
	if err != nil {
		return nil, &ConversionFailedError{From: from, To: to, Cause: err}
	}
	return out, nil
}
