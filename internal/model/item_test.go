package model

import (
	"testing"
	"time"
)

func itemAt(title, payload string, mtime *time.Time) *Item {
	return &Item{
		UID:     "u-" + title,
		Type:    "note",
		Title:   title,
		Payload: []byte(payload),
		Mtime:   mtime,
	}
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestContentHash_StableAndSensitive(t *testing.T) {
	a := itemAt("Milk", "2 litres", ts("2026-01-01T10:00:00Z"))
	b := itemAt("Milk", "2 litres", ts("2026-02-01T10:00:00Z"))

	if a.ContentHash() != b.ContentHash() {
		t.Error("mtime must not affect the content hash")
	}

	c := itemAt("Milk", "3 litres", nil)
	if a.ContentHash() == c.ContentHash() {
		t.Error("payload change must affect the content hash")
	}
}

func TestContentHash_FieldSeparation(t *testing.T) {
	// "ab"+"c" and "a"+"bc" across the title/payload boundary must differ.
	a := &Item{Type: "note", Title: "ab", Payload: []byte("c")}
	b := &Item{Type: "note", Title: "a", Payload: []byte("bc")}
	if a.ContentHash() == b.ContentHash() {
		t.Error("hash must separate title and payload")
	}
}

func TestCompare_EqualContentWinsOverTimestamps(t *testing.T) {
	src := itemAt("Milk", "2 litres", ts("2026-01-02T10:00:00Z"))
	snk := itemAt("Milk", "2 litres", ts("2026-01-01T10:00:00Z"))

	if got := Compare(src, snk); got != CompareEqual {
		t.Errorf("Compare = %v, want equal", got)
	}
}

func TestCompare_OrdersByMtime(t *testing.T) {
	older := itemAt("Milk", "v1", ts("2026-01-01T10:00:00Z"))
	newer := itemAt("Milk", "v2", ts("2026-01-02T10:00:00Z"))

	if got := Compare(newer, older); got != CompareNewer {
		t.Errorf("Compare(newer, older) = %v, want newer", got)
	}
	if got := Compare(older, newer); got != CompareOlder {
		t.Errorf("Compare(older, newer) = %v, want older", got)
	}
}

func TestCompare_MissingMtimeIsUnknown(t *testing.T) {
	src := itemAt("Milk", "v1", nil)
	snk := itemAt("Milk", "v2", ts("2026-01-01T10:00:00Z"))

	if got := Compare(src, snk); got != CompareUnknown {
		t.Errorf("Compare with missing source mtime = %v, want unknown", got)
	}
	if got := Compare(snk, src); got != CompareUnknown {
		t.Errorf("Compare with missing sink mtime = %v, want unknown", got)
	}
}

func TestCompare_SameMtimeDifferentContentIsUnknown(t *testing.T) {
	at := ts("2026-01-01T10:00:00Z")
	src := itemAt("Milk", "v1", at)
	snk := itemAt("Milk", "v2", at)

	if got := Compare(src, snk); got != CompareUnknown {
		t.Errorf("Compare = %v, want unknown", got)
	}
}

func TestWithUID_CopiesValue(t *testing.T) {
	orig := itemAt("Milk", "v1", nil)
	got := orig.WithUID("fresh")

	if got.UID != "fresh" {
		t.Errorf("UID = %q, want %q", got.UID, "fresh")
	}
	if orig.UID == "fresh" {
		t.Error("WithUID must not mutate the receiver")
	}
}
