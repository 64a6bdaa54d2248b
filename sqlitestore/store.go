// Package sqlitestore implements treecrdt.Storage on top of a SQLite
// database, following the schema-as-const-string + database/sql idiom used
// throughout the corpus. It embeds the tree CRDT core in a relational host:
// ops are appended to a durable log table, and readers can query the latest
// Lamport/counter high-water marks without the core ever touching SQL
// itself.
package sqlitestore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/cshekharsharma/treecrdt"
)

const schema = `
CREATE TABLE IF NOT EXISTS treecrdt_ops (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    replica      BLOB    NOT NULL,
    counter      INTEGER NOT NULL,
    lamport      INTEGER NOT NULL,
    kind         INTEGER NOT NULL,
    parent_hi    INTEGER NOT NULL DEFAULT 0,
    parent_lo    INTEGER NOT NULL DEFAULT 0,
    node_hi      INTEGER NOT NULL DEFAULT 0,
    node_lo      INTEGER NOT NULL DEFAULT 0,
    has_after    INTEGER NOT NULL DEFAULT 0,
    after_hi     INTEGER NOT NULL DEFAULT 0,
    after_lo     INTEGER NOT NULL DEFAULT 0,
    new_parent_hi INTEGER NOT NULL DEFAULT 0,
    new_parent_lo INTEGER NOT NULL DEFAULT 0,
    payload      BLOB,
    tombstone    BLOB,
    UNIQUE(replica, counter)
);
CREATE INDEX IF NOT EXISTS idx_treecrdt_ops_lamport ON treecrdt_ops(lamport);
CREATE INDEX IF NOT EXISTS idx_treecrdt_ops_replica ON treecrdt_ops(replica, counter);
`

// Store is a treecrdt.Storage backed by a SQLite database opened via
// modernc.org/sqlite (pure Go, no cgo).
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at path and applies the schema
// DDL. Callers are responsible for calling Close when done.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writers; avoid pool contention on locks.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func optionalNodeID(n *treecrdt.NodeId) (has int, hi, lo uint64) {
	if n == nil {
		return 0, 0, 0
	}
	return 1, n.Hi, n.Lo
}

// Apply appends op iff its (replica, counter) pair is unseen, relying on
// the UNIQUE constraint for dedup rather than a pre-check SELECT.
func (s *Store) Apply(op treecrdt.Operation) (bool, error) {
	hasAfter, afterHi, afterLo := optionalNodeID(op.After)
	_, err := s.db.Exec(
		`INSERT INTO treecrdt_ops
			(replica, counter, lamport, kind, parent_hi, parent_lo, node_hi, node_lo,
			 has_after, after_hi, after_lo, new_parent_hi, new_parent_lo, payload, tombstone)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		op.Meta.ID.Replica.Bytes(), uint64(op.Meta.ID.Counter), uint64(op.Meta.Lamport), uint8(op.Kind),
		op.Parent.Hi, op.Parent.Lo, op.Node.Hi, op.Node.Lo,
		hasAfter, afterHi, afterLo,
		op.NewParent.Hi, op.NewParent.Lo, op.Payload, op.Tombstone,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("sqlitestore: insert operation: %w", err)
	}
	return true, nil
}

// LoadSince returns every operation with lamport strictly greater than the
// given value.
func (s *Store) LoadSince(lamport treecrdt.Lamport) ([]treecrdt.Operation, error) {
	rows, err := s.db.Query(
		`SELECT replica, counter, lamport, kind, parent_hi, parent_lo, node_hi, node_lo,
		        has_after, after_hi, after_lo, new_parent_hi, new_parent_lo, payload, tombstone
		 FROM treecrdt_ops WHERE lamport > ? ORDER BY seq ASC`,
		uint64(lamport),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query operations: %w", err)
	}
	defer rows.Close()

	var out []treecrdt.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan operation: %w", err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: iterate operations: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (treecrdt.Operation, error) {
	var (
		replicaBytes             []byte
		counter, lamport         uint64
		kind                     uint8
		parentHi, parentLo       uint64
		nodeHi, nodeLo           uint64
		hasAfter                 int
		afterHi, afterLo         uint64
		newParentHi, newParentLo uint64
		payload, tombstone       []byte
	)
	if err := row.Scan(&replicaBytes, &counter, &lamport, &kind,
		&parentHi, &parentLo, &nodeHi, &nodeLo,
		&hasAfter, &afterHi, &afterLo, &newParentHi, &newParentLo,
		&payload, &tombstone); err != nil {
		return treecrdt.Operation{}, err
	}

	replica := treecrdt.NewReplicaId(replicaBytes)
	meta := treecrdt.OperationMetadata{
		ID:      treecrdt.NewOperationID(replica, treecrdt.Counter(counter)),
		Lamport: treecrdt.Lamport(lamport),
	}
	op := treecrdt.Operation{
		Meta:      meta,
		Kind:      treecrdt.OperationKind(kind),
		Parent:    treecrdt.NewNodeID(parentHi, parentLo),
		Node:      treecrdt.NewNodeID(nodeHi, nodeLo),
		NewParent: treecrdt.NewNodeID(newParentHi, newParentLo),
		Payload:   payload,
		Tombstone: tombstone,
	}
	if hasAfter != 0 {
		after := treecrdt.NewNodeID(afterHi, afterLo)
		op.After = &after
	}
	return op, nil
}

// LatestLamport returns the maximum lamport stored, or 0 if the log is
// empty.
func (s *Store) LatestLamport() (treecrdt.Lamport, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(lamport) FROM treecrdt_ops`).Scan(&max); err != nil {
		return 0, fmt.Errorf("sqlitestore: query max lamport: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return treecrdt.Lamport(max.Int64), nil
}

// LatestCounter returns the maximum counter stored for replica, or 0 if
// none.
func (s *Store) LatestCounter(replica treecrdt.ReplicaId) (treecrdt.Counter, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(
		`SELECT MAX(counter) FROM treecrdt_ops WHERE replica = ?`, replica.Bytes(),
	).Scan(&max); err != nil {
		return 0, fmt.Errorf("sqlitestore: query max counter: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return treecrdt.Counter(max.Int64), nil
}

// NodeRow is a single materialized (node, parent, payload) row as returned
// by TreeDump.
type NodeRow struct {
	Node    treecrdt.NodeId
	Parent  treecrdt.NodeId
	Payload []byte
}

// TreeDump re-derives the full materialized tree state directly from SQL by
// driving a fresh treecrdt.TreeCrdt over every stored operation, rather
// than keeping a separately-maintained materialized table. It is a
// read-only convenience for hosts that want a one-shot dump without
// constructing their own TreeCrdt.
func (s *Store) TreeDump(replica treecrdt.ReplicaId) ([]NodeRow, error) {
	clock := treecrdt.NewLamportClock()
	tree, err := treecrdt.New(replica, s, clock)
	if err != nil {
		return nil, err
	}
	if err := tree.ReplayFromStorage(); err != nil {
		return nil, err
	}
	edges, err := tree.Nodes()
	if err != nil {
		return nil, err
	}
	out := make([]NodeRow, 0, len(edges))
	for _, e := range edges {
		payload, _, err := tree.Payload(e.Node)
		if err != nil {
			return nil, err
		}
		out = append(out, NodeRow{Node: e.Node, Parent: e.Parent, Payload: payload})
	}
	return out, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure. modernc.org/sqlite surfaces this as a plain error whose message
// contains "UNIQUE constraint failed" rather than a typed sentinel.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
