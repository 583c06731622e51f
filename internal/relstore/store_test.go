package relstore

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
)

const pair = "folder:src→folder:dst"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-relationships.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relationships.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	ctx := context.Background()
	if err := s1.SaveRelationship(ctx, pair, "a1", "b1"); err != nil {
		t.Fatalf("SaveRelationship: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	t.Cleanup(func() { _ = s2.Close() })

	rels, err := s2.GetRelationships(ctx, pair)
	if err != nil {
		t.Fatalf("GetRelationships: %v", err)
	}
	if len(rels) != 1 {
		t.Errorf("relationships after reopen = %d, want 1", len(rels))
	}
}

func TestSaveRelationship_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveRelationship(ctx, pair, "a1", "b1"); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.SaveRelationship(ctx, pair, "a1", "b1"); err != nil {
		t.Fatalf("duplicate save: %v", err)
	}

	rels, err := s.GetRelationships(ctx, pair)
	if err != nil {
		t.Fatalf("GetRelationships: %v", err)
	}
	if got := len(rels["a1"]); got != 1 {
		t.Errorf("records for a1 = %d, want exactly 1 after duplicate save", got)
	}
}

func TestSaveRelationship_IgnoresEmptyIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveRelationship(ctx, pair, "", "b1"); err != nil {
		t.Fatalf("save with empty idA: %v", err)
	}
	if err := s.SaveRelationship(ctx, pair, "a1", ""); err != nil {
		t.Fatalf("save with empty idB: %v", err)
	}

	rels, err := s.GetRelationships(ctx, pair)
	if err != nil {
		t.Fatalf("GetRelationships: %v", err)
	}
	if len(rels) != 0 {
		t.Errorf("relationships = %v, want none for empty ids", rels)
	}
}

func TestGetRelationships_GroupsByIDA(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, rel := range [][2]string{{"a1", "b1"}, {"a1", "b2"}, {"a2", "b3"}} {
		if err := s.SaveRelationship(ctx, pair, rel[0], rel[1]); err != nil {
			t.Fatalf("SaveRelationship(%v): %v", rel, err)
		}
	}

	rels, err := s.GetRelationships(ctx, pair)
	if err != nil {
		t.Fatalf("GetRelationships: %v", err)
	}
	want := map[string][]string{"a1": {"b1", "b2"}, "a2": {"b3"}}
	if !reflect.DeepEqual(rels, want) {
		t.Errorf("GetRelationships = %v, want %v", rels, want)
	}
}

func TestGetMatchingIDs_ForwardAndReverse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveRelationship(ctx, pair, "x", "y"); err != nil {
		t.Fatalf("SaveRelationship: %v", err)
	}
	if err := s.SaveRelationship(ctx, pair, "z", "x"); err != nil {
		t.Fatalf("SaveRelationship: %v", err)
	}

	forward, err := s.GetMatchingIDs(ctx, pair, "x", false)
	if err != nil {
		t.Fatalf("GetMatchingIDs forward: %v", err)
	}
	if !reflect.DeepEqual(forward, []string{"y"}) {
		t.Errorf("forward matches = %v, want [y]", forward)
	}

	both, err := s.GetMatchingIDs(ctx, pair, "x", true)
	if err != nil {
		t.Fatalf("GetMatchingIDs bidirectional: %v", err)
	}
	// Forward matches come first, then reverse.
	if !reflect.DeepEqual(both, []string{"y", "z"}) {
		t.Errorf("bidirectional matches = %v, want [y z]", both)
	}
}

func TestGetMatchingIDs_ScopedToPairKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveRelationship(ctx, pair, "a1", "b1"); err != nil {
		t.Fatalf("SaveRelationship: %v", err)
	}
	if err := s.SaveRelationship(ctx, "other→pair", "a1", "c9"); err != nil {
		t.Fatalf("SaveRelationship: %v", err)
	}

	ids, err := s.GetMatchingIDs(ctx, pair, "a1", true)
	if err != nil {
		t.Fatalf("GetMatchingIDs: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"b1"}) {
		t.Errorf("matches = %v, want only this pair's records", ids)
	}
}

func TestDeleteRelationship_EitherSide(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveRelationship(ctx, pair, "a1", "b1"); err != nil {
		t.Fatalf("SaveRelationship: %v", err)
	}
	if err := s.SaveRelationship(ctx, pair, "a2", "b2"); err != nil {
		t.Fatalf("SaveRelationship: %v", err)
	}

	// Deleting by the idB side must remove the record too.
	if err := s.DeleteRelationship(ctx, pair, "b1"); err != nil {
		t.Fatalf("DeleteRelationship: %v", err)
	}

	rels, err := s.GetRelationships(ctx, pair)
	if err != nil {
		t.Fatalf("GetRelationships: %v", err)
	}
	if _, gone := rels["a1"]; gone {
		t.Error("record a1↔b1 should have been deleted")
	}
	if _, kept := rels["a2"]; !kept {
		t.Error("unrelated record a2↔b2 should survive")
	}
}

func TestCommit_FlushesWithoutError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveRelationship(ctx, pair, "a1", "b1"); err != nil {
		t.Fatalf("SaveRelationship: %v", err)
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}
