package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lkoehl/pairsync/internal/conflict"
	"github.com/lkoehl/pairsync/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockProvider is an in-memory provider whose failure modes are switchable
// per test.
type mockProvider struct {
	uid      string
	itemType string

	mu    sync.Mutex
	items []*model.Item

	refreshErr error
	putErr     error
	deleteErr  error

	refreshes int
	finishes  int
	puts      []*model.Item
	deletes   []string

	// blockRefresh, when non-nil, makes Refresh wait until the context is
	// cancelled or the channel is closed.
	blockRefresh chan struct{}
	refreshing   chan struct{} // closed when a blocked Refresh has started

	// refreshDelay widens the Refresh window so overlapping workers show
	// up in maxInFlight.
	refreshDelay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newMockProvider(uid, itemType string, items ...*model.Item) *mockProvider {
	return &mockProvider{uid: uid, itemType: itemType, items: items}
}

func (m *mockProvider) UID() string      { return m.uid }
func (m *mockProvider) ItemType() string { return m.itemType }

func (m *mockProvider) Refresh(ctx context.Context) error {
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		seen := m.maxInFlight.Load()
		if cur <= seen || m.maxInFlight.CompareAndSwap(seen, cur) {
			break
		}
	}
	if m.refreshDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.refreshDelay):
		}
	}
	if m.blockRefresh != nil {
		if m.refreshing != nil {
			close(m.refreshing)
			m.refreshing = nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.blockRefresh:
		}
	}
	m.mu.Lock()
	m.refreshes++
	m.mu.Unlock()
	return m.refreshErr
}

func (m *mockProvider) NumItems(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

func (m *mockProvider) Get(ctx context.Context, index int) (*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.items) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	return m.items[index], nil
}

func (m *mockProvider) GetAll(ctx context.Context) ([]*model.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Item, len(m.items))
	copy(out, m.items)
	return out, nil
}

func (m *mockProvider) Put(ctx context.Context, item *model.Item, overwrite bool, existingID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return "", m.putErr
	}

	newID := item.UID
	if existingID != "" {
		newID = existingID
	}
	stored := item.WithUID(newID)
	m.puts = append(m.puts, stored)

	for i, existing := range m.items {
		if existing.UID == newID {
			m.items[i] = stored
			return newID, nil
		}
	}
	m.items = append(m.items, stored)
	return newID, nil
}

func (m *mockProvider) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletes = append(m.deletes, id)
	for i, item := range m.items {
		if item.UID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockProvider) Finish(ctx context.Context) error {
	m.mu.Lock()
	m.finishes++
	m.mu.Unlock()
	return nil
}

func (m *mockProvider) finishCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishes
}

func (m *mockProvider) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.puts)
}

// mockStore is an in-memory RelationshipStore recording every mutation.
type mockStore struct {
	mu      sync.Mutex
	rels    map[string]map[string][]string // pairKey → idA → idBs
	saves   int
	deletes int
	commits int

	saveErr error
	getErr  error
}

func newMockStore() *mockStore {
	return &mockStore{rels: make(map[string]map[string][]string)}
}

func (s *mockStore) SaveRelationship(ctx context.Context, pairKey, idA, idB string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.rels[pairKey] == nil {
		s.rels[pairKey] = make(map[string][]string)
	}
	for _, existing := range s.rels[pairKey][idA] {
		if existing == idB {
			return nil
		}
	}
	s.rels[pairKey][idA] = append(s.rels[pairKey][idA], idB)
	s.saves++
	return nil
}

func (s *mockStore) GetRelationships(ctx context.Context, pairKey string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	out := make(map[string][]string, len(s.rels[pairKey]))
	for idA, idBs := range s.rels[pairKey] {
		out[idA] = append([]string(nil), idBs...)
	}
	return out, nil
}

func (s *mockStore) GetMatchingIDs(ctx context.Context, pairKey, id string, bidirectional bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	var out []string
	out = append(out, s.rels[pairKey][id]...)
	if bidirectional {
		for idA, idBs := range s.rels[pairKey] {
			for _, idB := range idBs {
				if idB == id {
					out = append(out, idA)
				}
			}
		}
	}
	return out, nil
}

func (s *mockStore) DeleteRelationship(ctx context.Context, pairKey, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byA := s.rels[pairKey]
	if _, ok := byA[id]; ok {
		delete(byA, id)
		s.deletes++
		return nil
	}
	for idA, idBs := range byA {
		kept := idBs[:0]
		removed := false
		for _, idB := range idBs {
			if idB == id {
				removed = true
				continue
			}
			kept = append(kept, idB)
		}
		if removed {
			s.deletes++
		}
		if len(kept) == 0 {
			delete(byA, idA)
		} else {
			byA[idA] = kept
		}
	}
	return nil
}

func (s *mockStore) Commit(ctx context.Context) error {
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil
}

func (s *mockStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// mockQueue records raised conflicts without running a resolver.
type mockQueue struct {
	mu     sync.Mutex
	raised []*conflict.Conflict
	nextID uint64

	raiseErr error
}

func (q *mockQueue) Raise(c *conflict.Conflict) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.raiseErr != nil {
		return 0, q.raiseErr
	}
	q.nextID++
	c.ID = q.nextID
	q.raised = append(q.raised, c)
	return q.nextID, nil
}

func (q *mockQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.raised)
}
