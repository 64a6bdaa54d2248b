package treecrdt

import "testing"

func TestCmpOpKey_LamportDominates(t *testing.T) {
	a := opKey{lamport: 1, replica: NewReplicaId([]byte("z")), counter: 99}
	b := opKey{lamport: 2, replica: NewReplicaId([]byte("a")), counter: 1}
	if cmpOpKey(a, b) >= 0 {
		t.Fatalf("expected a < b on lamport alone")
	}
}

func TestCmpOpKey_ReplicaTieBreak(t *testing.T) {
	a := opKey{lamport: 5, replica: NewReplicaId([]byte("a")), counter: 1}
	b := opKey{lamport: 5, replica: NewReplicaId([]byte("b")), counter: 1}
	if cmpOpKey(a, b) >= 0 {
		t.Fatalf("expected a < b: replica 'a' sorts before 'b'")
	}
	if cmpOpKey(b, a) <= 0 {
		t.Fatalf("comparator should be antisymmetric")
	}
}

func TestCmpOpKey_CounterTieBreak(t *testing.T) {
	replica := NewReplicaId([]byte("a"))
	a := opKey{lamport: 5, replica: replica, counter: 1}
	b := opKey{lamport: 5, replica: replica, counter: 2}
	if cmpOpKey(a, b) >= 0 {
		t.Fatalf("expected a < b on counter")
	}
}

func TestNewInsertPopulatesFields(t *testing.T) {
	meta := OperationMetadata{ID: NewOperationID(NewReplicaId([]byte("a")), 1), Lamport: 1}
	after := NewNodeID(0, 9)
	op := NewInsert(meta, RootID, NewNodeID(0, 1), &after, []byte("payload"))

	if op.Kind != KindInsert {
		t.Fatalf("expected KindInsert, got %v", op.Kind)
	}
	if op.Parent != RootID {
		t.Fatalf("expected parent ROOT")
	}
	if op.After == nil || *op.After != after {
		t.Fatalf("after sibling not carried through")
	}
	if string(op.Payload) != "payload" {
		t.Fatalf("payload not carried through")
	}
}

func TestOperationKindString(t *testing.T) {
	cases := map[OperationKind]string{
		KindInsert:     "Insert",
		KindMove:       "Move",
		KindDelete:     "Delete",
		KindSetPayload: "SetPayload",
		OperationKind(99): "Unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("kind %d: got %q, want %q", kind, got, want)
		}
	}
}
