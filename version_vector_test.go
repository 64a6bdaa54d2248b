package treecrdt

import (
	"encoding/json"
	"testing"
)

func TestVersionVector_IsAwareOf(t *testing.T) {
	a, b := NewReplicaId([]byte("a")), NewReplicaId([]byte("b"))

	vv1 := NewVersionVector()
	vv1.Observe(a, 5)
	vv1.Observe(b, 3)

	vv2 := NewVersionVector()
	vv2.Observe(a, 3)
	vv2.Observe(b, 2)

	if !vv1.IsAwareOf(vv2) {
		t.Fatalf("vv1 should be aware of vv2")
	}
	if vv2.IsAwareOf(vv1) {
		t.Fatalf("vv2 should not be aware of vv1")
	}

	vv2.Observe(a, 5)
	vv2.Observe(b, 3)
	if !vv1.IsAwareOf(vv2) || !vv2.IsAwareOf(vv1) {
		t.Fatalf("after catching up, both should be mutually aware")
	}
}

func TestVersionVector_MergeIsCommutativeAndIdempotent(t *testing.T) {
	a, b := NewReplicaId([]byte("a")), NewReplicaId([]byte("b"))

	left := NewVersionVector()
	left.Observe(a, 4)
	right := NewVersionVector()
	right.Observe(b, 7)

	merged1 := NewVersionVector()
	merged1.Merge(left)
	merged1.Merge(right)

	merged2 := NewVersionVector()
	merged2.Merge(right)
	merged2.Merge(left)

	if !merged1.Equal(merged2) {
		t.Fatalf("merge should be commutative")
	}

	merged1.Merge(left)
	merged1.Merge(right)
	if !merged1.Equal(merged2) {
		t.Fatalf("merge should be idempotent")
	}
}

func TestVersionVector_SerializationRoundTrip(t *testing.T) {
	vv := NewVersionVector()
	vv.Observe(NewReplicaId([]byte("a")), 5)
	vv.Observe(NewReplicaId([]byte("b")), 3)

	data, err := json.Marshal(vv)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var restored VersionVector
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !vv.Equal(&restored) {
		t.Fatalf("round-trip did not preserve entries")
	}
}

func TestVersionVector_EmptySerializesNonNull(t *testing.T) {
	vv := NewVersionVector()
	data, err := json.Marshal(vv)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"entries":{}}` {
		t.Fatalf("expected non-null empty entries object, got %s", data)
	}
}
