package treecrdt

import "testing"

func newTestTree(t *testing.T, replica string) *TreeCrdt {
	t.Helper()
	tree, err := New(NewReplicaId([]byte(replica)), NewMemoryStorage(), NewLamportClock())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tree
}

// A move into a node's own descendant must be rejected: the parent edge
// stays exactly as it was before the move was delivered.
func TestCycleBlocking_MoveIntoOwnDescendant(t *testing.T) {
	tree := newTestTree(t, "a")
	replica := NewReplicaId([]byte("a"))
	one, two := NewNodeID(0, 1), NewNodeID(0, 2)

	if _, err := tree.LocalInsert(RootID, one, nil, nil); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if _, err := tree.LocalInsert(one, two, nil, nil); err != nil {
		t.Fatalf("insert 2: %v", err)
	}

	badMove := NewMove(OperationMetadata{ID: NewOperationID(replica, 3), Lamport: 3}, one, two, nil)
	if _, err := tree.ApplyRemote(badMove); err != nil {
		t.Fatalf("apply bad move: %v", err)
	}

	parent1, ok, err := tree.Parent(one)
	if err != nil || !ok || parent1 != RootID {
		t.Fatalf("expected parent(1)==ROOT, got %v ok=%v err=%v", parent1, ok, err)
	}
	parent2, ok, err := tree.Parent(two)
	if err != nil || !ok || parent2 != one {
		t.Fatalf("expected parent(2)==1, got %v ok=%v err=%v", parent2, ok, err)
	}
	if err := tree.ValidateInvariants(); err != nil {
		t.Fatalf("ValidateInvariants: %v", err)
	}
}

// The same cycle-prevention rule holds when every operation, including the
// ones that build the initial tree, arrives through ApplyRemote rather
// than being produced locally.
func TestCyclesAreBlocked_AllRemote(t *testing.T) {
	tree := newTestTree(t, "a")
	replica := NewReplicaId([]byte("a"))
	one, two := NewNodeID(0, 1), NewNodeID(0, 2)

	inserts := []Operation{
		NewInsert(OperationMetadata{ID: NewOperationID(replica, 1), Lamport: 1}, RootID, one, nil, nil),
		NewInsert(OperationMetadata{ID: NewOperationID(replica, 2), Lamport: 2}, one, two, nil, nil),
	}
	for _, op := range inserts {
		if _, err := tree.ApplyRemote(op); err != nil {
			t.Fatalf("apply insert: %v", err)
		}
	}

	badMove := NewMove(OperationMetadata{ID: NewOperationID(replica, 3), Lamport: 3}, one, two, nil)
	if _, err := tree.ApplyRemote(badMove); err != nil {
		t.Fatalf("apply bad move: %v", err)
	}

	if parent, _, _ := tree.Parent(one); parent != RootID {
		t.Errorf("expected parent(1)==ROOT, got %v", parent)
	}
	if parent, _, _ := tree.Parent(two); parent != one {
		t.Errorf("expected parent(2)==1, got %v", parent)
	}
	if err := tree.ValidateInvariants(); err != nil {
		t.Fatalf("ValidateInvariants: %v", err)
	}
}

// A fixed set of operations must materialize to the same tree state no
// matter what order they're delivered in; convergence_test.go exercises
// the same property over operation sequences of randomly drawn length.
func TestPermutationConvergence_FixedScenario(t *testing.T) {
	replica := NewReplicaId([]byte("a"))
	one, two, three := NewNodeID(0, 1), NewNodeID(0, 2), NewNodeID(0, 3)

	ops := []Operation{
		NewInsert(OperationMetadata{ID: NewOperationID(replica, 1), Lamport: 1}, RootID, one, nil, nil),
		NewInsert(OperationMetadata{ID: NewOperationID(replica, 2), Lamport: 2}, RootID, two, nil, nil),
		NewInsert(OperationMetadata{ID: NewOperationID(replica, 3), Lamport: 3}, RootID, three, nil, nil),
		NewMove(OperationMetadata{ID: NewOperationID(replica, 4), Lamport: 4}, three, one, nil),
		NewMove(OperationMetadata{ID: NewOperationID(replica, 5), Lamport: 5}, three, two, nil),
	}

	want := map[NodeId]NodeId{one: RootID, two: RootID, three: two}

	for _, perm := range permutations(ops) {
		tree := newTestTree(t, "p")
		for _, op := range perm {
			if _, err := tree.ApplyRemote(op); err != nil {
				t.Fatalf("apply: %v", err)
			}
		}
		if err := tree.ValidateInvariants(); err != nil {
			t.Fatalf("ValidateInvariants: %v", err)
		}
		for node, expectedParent := range want {
			got, ok, err := tree.Parent(node)
			if err != nil || !ok || got != expectedParent {
				t.Fatalf("node %v: got parent %v (ok=%v), want %v", node, got, ok, expectedParent)
			}
		}
	}
}

// permutations generates every ordering of ops via Heap's algorithm.
func permutations(ops []Operation) [][]Operation {
	items := append([]Operation(nil), ops...)
	var out [][]Operation
	var heap func(k int)
	heap = func(k int) {
		if k == 1 {
			out = append(out, append([]Operation(nil), items...))
			return
		}
		heap(k - 1)
		for i := 0; i < k-1; i++ {
			if k%2 == 0 {
				items[i], items[k-1] = items[k-1], items[i]
			} else {
				items[0], items[k-1] = items[k-1], items[0]
			}
			heap(k - 1)
		}
	}
	heap(len(items))
	return out
}

// Once a node is deleted, a later-arriving remote move targeting it — even
// with a higher lamport timestamp — must have no effect.
func TestDefensiveDelete_BlocksLaterRemoteMove(t *testing.T) {
	tree := newTestTree(t, "a")
	replica := NewReplicaId([]byte("a"))
	one := NewNodeID(0, 1)

	if _, err := tree.LocalInsert(RootID, one, nil, nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := tree.LocalDelete(one, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}

	lateMove := NewMove(OperationMetadata{ID: NewOperationID(replica, 99), Lamport: 99}, one, RootID, nil)
	if _, err := tree.ApplyRemote(lateMove); err != nil {
		t.Fatalf("apply late move: %v", err)
	}

	parent, ok, err := tree.Parent(one)
	if err != nil || !ok || parent != TrashID {
		t.Fatalf("expected parent(1)==TRASH even after a higher-lamport move, got %v ok=%v err=%v", parent, ok, err)
	}
}

// Two payload writes with identical lamport timestamps resolve by replica:
// "b" wins the tie-break over "a" regardless of delivery order.
func TestPayloadLWW_ReplicaTieBreak(t *testing.T) {
	tree := newTestTree(t, "local")
	node := NewNodeID(0, 1)
	if _, err := tree.LocalInsert(RootID, node, nil, nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	opA := NewSetPayload(
		OperationMetadata{ID: NewOperationID(NewReplicaId([]byte("a")), 1), Lamport: 10},
		node, []byte("from-a"),
	)
	opB := NewSetPayload(
		OperationMetadata{ID: NewOperationID(NewReplicaId([]byte("b")), 1), Lamport: 10},
		node, []byte("from-b"),
	)

	// Deliver in both orders; "b" must win regardless.
	for _, order := range [][2]Operation{{opA, opB}, {opB, opA}} {
		tree := newTestTree(t, "local")
		if _, err := tree.LocalInsert(RootID, node, nil, nil); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if _, err := tree.ApplyRemote(order[0]); err != nil {
			t.Fatalf("apply first: %v", err)
		}
		if _, err := tree.ApplyRemote(order[1]); err != nil {
			t.Fatalf("apply second: %v", err)
		}
		payload, ok, err := tree.Payload(node)
		if err != nil || !ok || string(payload) != "from-b" {
			t.Fatalf("expected replica 'b' payload to win, got %q (ok=%v err=%v)", payload, ok, err)
		}
	}
}

func TestLocalInsert_RejectsReservedNodeIDs(t *testing.T) {
	tree := newTestTree(t, "a")
	if _, err := tree.LocalInsert(RootID, RootID, nil, nil); err == nil {
		t.Fatalf("expected an error inserting ROOT as a node")
	}
	if _, err := tree.LocalInsert(RootID, TrashID, nil, nil); err == nil {
		t.Fatalf("expected an error inserting TRASH as a node")
	}
}

func TestApplyRemote_IdempotentOnDuplicateID(t *testing.T) {
	tree := newTestTree(t, "a")
	op := NewInsert(
		OperationMetadata{ID: NewOperationID(NewReplicaId([]byte("a")), 1), Lamport: 1},
		RootID, NewNodeID(0, 1), nil, nil,
	)
	first, err := tree.ApplyRemote(op)
	if err != nil || !first {
		t.Fatalf("expected first apply to succeed, got %v err=%v", first, err)
	}
	second, err := tree.ApplyRemote(op)
	if err != nil || second {
		t.Fatalf("expected duplicate apply to report false with no error, got %v err=%v", second, err)
	}
}

func TestChildren_OrderedByAfterAnchor(t *testing.T) {
	tree := newTestTree(t, "a")
	one, two, three := NewNodeID(0, 1), NewNodeID(0, 2), NewNodeID(0, 3)

	if _, err := tree.LocalInsert(RootID, one, nil, nil); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if _, err := tree.LocalInsert(RootID, three, &one, nil); err != nil {
		t.Fatalf("insert 3 after 1: %v", err)
	}
	if _, err := tree.LocalInsert(RootID, two, &one, nil); err != nil {
		t.Fatalf("insert 2 after 1: %v", err)
	}

	kids, err := tree.Children(RootID)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(kids) != 3 || kids[0] != one {
		t.Fatalf("expected node 1 first, got %v", kids)
	}
}

func TestMissingDependency_BufferedThenUnblocked(t *testing.T) {
	tree := newTestTree(t, "a")
	replica := NewReplicaId([]byte("a"))
	parent, child := NewNodeID(0, 1), NewNodeID(0, 2)

	insertChild := NewInsert(OperationMetadata{ID: NewOperationID(replica, 2), Lamport: 2}, parent, child, nil, nil)
	if _, err := tree.ApplyRemote(insertChild); err != nil {
		t.Fatalf("apply orphan insert: %v", err)
	}
	if _, ok, _ := tree.Parent(child); ok {
		t.Fatalf("child should not be materialized before its parent exists")
	}

	insertParent := NewInsert(OperationMetadata{ID: NewOperationID(replica, 1), Lamport: 1}, RootID, parent, nil, nil)
	if _, err := tree.ApplyRemote(insertParent); err != nil {
		t.Fatalf("apply parent insert: %v", err)
	}

	got, ok, err := tree.Parent(child)
	if err != nil || !ok || got != parent {
		t.Fatalf("expected child to be unblocked once parent exists, got %v ok=%v err=%v", got, ok, err)
	}
}
