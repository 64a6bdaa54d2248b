// Package treecrdt implements the core of a replicated tree data structure:
// a CRDT engine that lets many replicas independently mutate a rooted forest
// and later reconcile without coordination.
//
// The package defines the operation model, the merge algorithm that
// guarantees order-independent convergence, the tree state machine and its
// cycle-prevention discipline, the causal metadata (Lamport clock and version
// vector), and the pluggable storage/index contracts that let the core be
// embedded in different hosts. Concrete storage engines, network transport,
// access-control policy, and serialization framing are all external; the
// core consumes them as small interfaces.
package treecrdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Lamport is a logical timestamp used to totally order operations across
// replicas. It only ever increases.
type Lamport uint64

// Counter is a per-replica monotonic sequence number. The pair
// (ReplicaId, Counter) is a unique OperationId.
type Counter uint64

// ReplicaId identifies a participant. It is compared lexicographically for
// tie-breaks and is immutable once created.
type ReplicaId struct {
	bytes []byte
}

// NewReplicaId wraps a byte sequence as a ReplicaId. The input is copied so
// the caller may reuse or mutate the slice afterward.
func NewReplicaId(b []byte) ReplicaId {
	cp := make([]byte, len(b))
	copy(cp, b)
	return ReplicaId{bytes: cp}
}

// Bytes returns the raw identity bytes. Callers must not mutate the result.
func (r ReplicaId) Bytes() []byte {
	return r.bytes
}

func (r ReplicaId) String() string {
	return string(r.bytes)
}

// Compare orders two ReplicaIds lexicographically by their byte sequence.
func (r ReplicaId) Compare(other ReplicaId) int {
	return bytes.Compare(r.bytes, other.bytes)
}

// Equal reports whether two ReplicaIds carry identical bytes.
func (r ReplicaId) Equal(other ReplicaId) bool {
	return bytes.Equal(r.bytes, other.bytes)
}

// replicaKey returns a value suitable for use as a map key, since []byte
// itself is not comparable.
func (r ReplicaId) replicaKey() string {
	return string(r.bytes)
}

// NodeId is a 128-bit node identifier. ROOT and TRASH are reserved; all
// other values name user nodes.
type NodeId struct {
	Hi uint64
	Lo uint64
}

// RootID is the implicit root of the forest; it is the parent of every
// top-level node and is never itself stored as a node record.
var RootID = NodeId{Hi: 0, Lo: 0}

// TrashID is the defensive-delete sink; it is the parent for every
// tombstoned node and nothing can be moved out of it.
var TrashID = NodeId{Hi: ^uint64(0), Lo: ^uint64(0)}

// NewNodeID builds a NodeId out of two 64-bit halves.
func NewNodeID(hi, lo uint64) NodeId {
	return NodeId{Hi: hi, Lo: lo}
}

// IsReserved reports whether n is ROOT or TRASH.
func (n NodeId) IsReserved() bool {
	return n == RootID || n == TrashID
}

func (n NodeId) String() string {
	switch n {
	case RootID:
		return "ROOT"
	case TrashID:
		return "TRASH"
	default:
		return fmt.Sprintf("%016x%016x", n.Hi, n.Lo)
	}
}

// Compare orders two NodeIds, comparing the high half first.
func (n NodeId) Compare(other NodeId) int {
	if n.Hi != other.Hi {
		if n.Hi < other.Hi {
			return -1
		}
		return 1
	}
	switch {
	case n.Lo < other.Lo:
		return -1
	case n.Lo > other.Lo:
		return 1
	default:
		return 0
	}
}

// OperationId globally and uniquely identifies an operation. Equality is by
// both fields.
type OperationId struct {
	Replica ReplicaId
	Counter Counter
}

// NewOperationID builds an OperationId for the given replica and counter.
func NewOperationID(replica ReplicaId, counter Counter) OperationId {
	return OperationId{Replica: replica, Counter: counter}
}

// Equal reports whether two OperationIds name the same operation.
func (id OperationId) Equal(other OperationId) bool {
	return id.Counter == other.Counter && id.Replica.Equal(other.Replica)
}

func (id OperationId) String() string {
	return fmt.Sprintf("%s/%d", id.Replica, id.Counter)
}

// key returns a value usable as a map key for OperationId, since ReplicaId
// wraps a slice.
func (id OperationId) key() operationIDKey {
	return operationIDKey{replica: id.Replica.replicaKey(), counter: id.Counter}
}

type operationIDKey struct {
	replica string
	counter Counter
}

// OperationMetadata carries the globally unique id and the Lamport timestamp
// stamped on an operation when it was produced.
type OperationMetadata struct {
	ID      OperationId
	Lamport Lamport
}

// encodeUint32BE / encodeUint64BE are small helpers shared by opref.go and
// any future wire-form code that needs fixed-width big-endian integers.
func encodeUint32BE(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func encodeUint64BE(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
