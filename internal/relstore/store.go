// Package relstore manages the SQLite database that records which item on
// one provider corresponds to which item on another. Records are keyed by an
// ordered provider-pair key and persist across runs, so the same logical item
// is recognised on both sides of a conduit over repeated syncs.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods. The store is not safe for
// concurrent writers; callers serialise mutation (in practice the conflict
// resolver's completion callback and the conduit finish step).
package relstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS relationships (
    pair_key TEXT NOT NULL,
    id_a     TEXT NOT NULL,
    id_b     TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_rel_triple ON relationships (pair_key, id_a, id_b);
CREATE INDEX        IF NOT EXISTS idx_rel_id_a   ON relationships (pair_key, id_a);
CREATE INDEX        IF NOT EXISTS idx_rel_id_b   ON relationships (pair_key, id_b);
`

// ErrStoreUnavailable marks storage I/O failures. The engine treats it as
// fatal for the current sync run (identity continuity is gone) but not for
// the process.
var ErrStoreUnavailable = errors.New("relationship store unavailable")

// unavailable wraps a driver-level error so callers can test with errors.Is.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// Store is the SQLite-backed relationship repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the relationship database:
// ~/.local/share/pairsync/relationships.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "pairsync", "relationships.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, unavailable(fmt.Sprintf("opening database %q", path), err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, unavailable("applying schema", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRelationship records that idA on one side of pairKey corresponds to idB
// on the other. It is idempotent: saving an existing triple is a no-op, and
// an empty id on either side is silently ignored (the item has not been
// committed yet, so there is nothing to relate).
func (s *Store) SaveRelationship(ctx context.Context, pairKey, idA, idB string) error {
	if idA == "" || idB == "" {
		return nil
	}
	const q = `INSERT OR IGNORE INTO relationships (pair_key, id_a, id_b) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, pairKey, idA, idB); err != nil {
		return unavailable(fmt.Sprintf("saving relationship %s (%s ↔ %s)", pairKey, idA, idB), err)
	}
	return nil
}

// GetRelationships returns every record for pairKey grouped by idA.
func (s *Store) GetRelationships(ctx context.Context, pairKey string) (map[string][]string, error) {
	const q = `SELECT id_a, id_b FROM relationships WHERE pair_key = ? ORDER BY id_a, id_b`
	rows, err := s.db.QueryContext(ctx, q, pairKey)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("querying relationships for %q", pairKey), err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]string)
	for rows.Next() {
		var idA, idB string
		if err := rows.Scan(&idA, &idB); err != nil {
			return nil, unavailable("scanning relationship row", err)
		}
		out[idA] = append(out[idA], idB)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating relationship rows", err)
	}
	return out, nil
}

// GetMatchingIDs returns the ids related to id within pairKey: forward
// matches (id as idA) always, followed by reverse matches (id as idB) when
// bidirectional is set.
func (s *Store) GetMatchingIDs(ctx context.Context, pairKey, id string, bidirectional bool) ([]string, error) {
	forward, err := s.matchColumn(ctx, pairKey, id, "id_a", "id_b")
	if err != nil {
		return nil, err
	}
	if !bidirectional {
		return forward, nil
	}
	reverse, err := s.matchColumn(ctx, pairKey, id, "id_b", "id_a")
	if err != nil {
		return nil, err
	}
	return append(forward, reverse...), nil
}

// DeleteRelationship removes every record within pairKey where id appears on
// either side. Used when a provider reports the item gone, or to supersede a
// record whose id changed.
func (s *Store) DeleteRelationship(ctx context.Context, pairKey, id string) error {
	const q = `DELETE FROM relationships WHERE pair_key = ? AND (id_a = ? OR id_b = ?)`
	if _, err := s.db.ExecContext(ctx, q, pairKey, id, id); err != nil {
		return unavailable(fmt.Sprintf("deleting relationships for %s/%s", pairKey, id), err)
	}
	return nil
}

// Commit flushes the WAL to the main database file. SQLite guarantees no
// partial-write state is ever visible to readers, so the flush is safe to
// call whenever writers are idle.
func (s *Store) Commit(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return unavailable("committing store", err)
	}
	return nil
}

func (s *Store) matchColumn(ctx context.Context, pairKey, id, matchCol, returnCol string) ([]string, error) {
	// Column names come from the two call sites above, never from input.
	q := fmt.Sprintf(`SELECT %s FROM relationships WHERE pair_key = ? AND %s = ? ORDER BY %s`,
		returnCol, matchCol, returnCol)
	rows, err := s.db.QueryContext(ctx, q, pairKey, id)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("querying %s matches for %s/%s", matchCol, pairKey, id), err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, unavailable("scanning match row", err)
		}
		ids = append(ids, v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating match rows", err)
	}
	return ids, nil
}
