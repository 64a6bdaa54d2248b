package treecrdt

import (
	"encoding/json"
	"sort"
)

// VersionVector maps ReplicaId to the highest Lamport timestamp observed
// from that replica. Replicas absent from the map are implicitly at 0.
type VersionVector struct {
	entries map[string]versionVectorEntry
}

type versionVectorEntry struct {
	replica ReplicaId
	lamport Lamport
}

// NewVersionVector returns an empty version vector.
func NewVersionVector() *VersionVector {
	return &VersionVector{entries: make(map[string]versionVectorEntry)}
}

func (vv *VersionVector) ensureMap() {
	if vv.entries == nil {
		vv.entries = make(map[string]versionVectorEntry)
	}
}

// Observe folds in a single (replica, lamport) pair, taking the pointwise
// max against whatever was previously recorded for that replica.
func (vv *VersionVector) Observe(replica ReplicaId, lamport Lamport) {
	vv.ensureMap()
	key := replica.replicaKey()
	if cur, ok := vv.entries[key]; !ok || lamport > cur.lamport {
		vv.entries[key] = versionVectorEntry{replica: replica, lamport: lamport}
	}
}

// Merge folds every entry of other into vv, taking the pointwise max.
func (vv *VersionVector) Merge(other *VersionVector) {
	if other == nil {
		return
	}
	for _, e := range other.entries {
		vv.Observe(e.replica, e.lamport)
	}
}

// Get returns the Lamport timestamp recorded for replica, or 0 if absent.
func (vv *VersionVector) Get(replica ReplicaId) Lamport {
	if vv.entries == nil {
		return 0
	}
	if e, ok := vv.entries[replica.replicaKey()]; ok {
		return e.lamport
	}
	return 0
}

// IsEmpty reports whether the vector has no entries.
func (vv *VersionVector) IsEmpty() bool {
	return len(vv.entries) == 0
}

// IsAwareOf reports whether vv has observed at least as much as other from
// every replica other knows about: for every replica r, vv[r] >= other[r].
func (vv *VersionVector) IsAwareOf(other *VersionVector) bool {
	if other == nil {
		return true
	}
	for _, e := range other.entries {
		if vv.Get(e.replica) < e.lamport {
			return false
		}
	}
	return true
}

// Entries returns a stable, sorted-by-replica-bytes snapshot of the vector's
// contents. The returned slice is safe to mutate.
func (vv *VersionVector) Entries() []VersionVectorEntry {
	out := make([]VersionVectorEntry, 0, len(vv.entries))
	for _, e := range vv.entries {
		out = append(out, VersionVectorEntry{Replica: e.replica, Lamport: e.lamport})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Replica.Compare(out[j].Replica) < 0
	})
	return out
}

// VersionVectorEntry is a single (replica, lamport) pair exposed by Entries.
type VersionVectorEntry struct {
	Replica ReplicaId
	Lamport Lamport
}

// Equal reports whether vv and other carry exactly the same entries.
func (vv *VersionVector) Equal(other *VersionVector) bool {
	if other == nil {
		return vv.IsEmpty()
	}
	if len(vv.entries) != len(other.entries) {
		return false
	}
	for key, e := range vv.entries {
		oe, ok := other.entries[key]
		if !ok || oe.lamport != e.lamport {
			return false
		}
	}
	return true
}

// versionVectorWire is the JSON wire form. It always marshals "entries" as
// an object, even when empty, so hosts that persist the vector never
// collapse causal knowledge to null — a null VV would silently drop it.
type versionVectorWire struct {
	Entries map[string]Lamport `json:"entries"`
}

// MarshalJSON renders the vector as a non-null structured representation:
// {"entries": {<replica-string>: lamport, ...}}. An empty vector renders as
// {"entries": {}}, never null.
func (vv *VersionVector) MarshalJSON() ([]byte, error) {
	wire := versionVectorWire{Entries: make(map[string]Lamport, len(vv.entries))}
	for _, e := range vv.entries {
		wire.Entries[e.replica.String()] = e.lamport
	}
	return json.Marshal(wire)
}

// UnmarshalJSON restores a vector from its wire form.
func (vv *VersionVector) UnmarshalJSON(data []byte) error {
	var wire versionVectorWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	vv.entries = make(map[string]versionVectorEntry, len(wire.Entries))
	for replicaStr, lamport := range wire.Entries {
		replica := NewReplicaId([]byte(replicaStr))
		vv.entries[replica.replicaKey()] = versionVectorEntry{replica: replica, lamport: lamport}
	}
	return nil
}
