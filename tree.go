package treecrdt

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// childEntry is one sibling slot under a parent: the node itself, the
// "after" anchor the inserting/moving operation requested, and the
// operation's total-order key, used to resolve concurrent inserts at the
// same anchor deterministically.
type childEntry struct {
	node  NodeId
	after *NodeId
	key   opKey
}

// nodeRecord is the derived per-node state: current parent, opaque payload
// (with its last-writer-wins stamp), and an optional tombstone recorded at
// delete time. The ordering anchor lives in the node's childEntry.
type nodeRecord struct {
	parent         NodeId
	payload        []byte
	payloadLamport Lamport
	payloadReplica ReplicaId
	tombstone      []byte
	hasTombstone   bool
}

// NodeEdge is a single (node, parent) pair as returned by Nodes.
type NodeEdge struct {
	Node   NodeId
	Parent NodeId
}

// ExtraHint is an extra (parent, operation) pair that
// FinalizeLocalMaterialization records alongside an operation's own hints;
// unlike a hint, it carries its own operation id. The tree's own
// materialization passes no extras: a Move's old and new parents are both
// recorded as hints of the Move itself.
type ExtraHint struct {
	Parent NodeId
	OpID   OperationId
}

// TreeCrdt is the tree state machine and merge/materialization engine. It
// is parameterized by a Storage collaborator and a Clock collaborator; an
// AccessHook and a ParentOpIndex are similarly pluggable via options,
// defaulting to AllowAllAccess and an in-memory index.
//
// TreeCrdt holds no internal lock: a single instance is owned by one
// logical owner at a time and concurrent access must be serialized
// externally (a host mutex or actor mailbox).
type TreeCrdt struct {
	replica ReplicaId
	storage Storage
	clock   Clock
	access  AccessHook
	index   ParentOpIndex
	logger  zerolog.Logger

	localCounter Counter

	nodes    map[NodeId]*nodeRecord
	children map[NodeId][]childEntry
	pending  map[NodeId][]Operation

	dirty         bool
	hasApplied    bool
	maxAppliedKey opKey
	seq           uint64
}

// Option configures a TreeCrdt at construction time.
type Option func(*TreeCrdt)

// WithAccessHook overrides the default AllowAllAccess hook.
func WithAccessHook(hook AccessHook) Option {
	return func(t *TreeCrdt) { t.access = hook }
}

// WithParentOpIndex overrides the default in-memory parent-op index.
func WithParentOpIndex(index ParentOpIndex) Option {
	return func(t *TreeCrdt) { t.index = index }
}

// WithLogger attaches a zerolog.Logger. The default is zerolog.Nop().
func WithLogger(logger zerolog.Logger) Option {
	return func(t *TreeCrdt) { t.logger = logger }
}

// New constructs a TreeCrdt for replica, backed by storage and clock. It
// does not read storage — a host reattaching to a document with existing
// history must call ReplayFromStorage afterward.
func New(replica ReplicaId, storage Storage, clock Clock, opts ...Option) (*TreeCrdt, error) {
	t := &TreeCrdt{
		replica:  replica,
		storage:  storage,
		clock:    clock,
		access:   AllowAllAccess{},
		index:    NewMemoryParentOpIndex(),
		logger:   zerolog.Nop(),
		nodes:    make(map[NodeId]*nodeRecord),
		children: make(map[NodeId][]childEntry),
		pending:  make(map[NodeId][]Operation),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// errNotTail signals the incremental fast path that the new operation does
// not extend the tail of the total order and must fall back to a full
// rematerialization.
var errNotTail = errors.New("operation does not extend materialized tail")

// TryIncrementalMaterialization is the dirty-bit two-phase guard: if
// already dirty, it marks dirty again (a no-op) and returns false without
// attempting apply. Otherwise it attempts apply; on failure it marks dirty
// and returns false. It returns true only when apply succeeded on a
// non-dirty tree.
func TryIncrementalMaterialization(dirty bool, apply func() error, markDirty func()) bool {
	if dirty {
		markDirty()
		return false
	}
	if err := apply(); err != nil {
		markDirty()
		return false
	}
	return true
}

// FinalizeLocalMaterialization records hints and extras into index for op,
// deduplicated by (parent, operation id) and with TRASH entries dropped —
// nothing ever needs selective rewind relative to the trash sink, so
// indexing it buys nothing. hints are recorded against op's own id; extras
// carry their own (parent, op id) pairs.
func (t *TreeCrdt) FinalizeLocalMaterialization(op Operation, index ParentOpIndex, seq uint64, hints []NodeId, extras []ExtraHint) error {
	type seenKey struct {
		parent NodeId
		op     operationIDKey
	}
	seen := make(map[seenKey]struct{}, len(hints)+len(extras))
	record := func(parent NodeId, opID OperationId) error {
		if parent == TrashID {
			return nil
		}
		key := seenKey{parent: parent, op: opID.key()}
		if _, ok := seen[key]; ok {
			return nil
		}
		seen[key] = struct{}{}
		return index.Record(parent, opID, seq)
	}
	for _, parent := range hints {
		if err := record(parent, op.Meta.ID); err != nil {
			return errStorage("record parent-op hint", err)
		}
	}
	for _, extra := range extras {
		if err := record(extra.Parent, extra.OpID); err != nil {
			return errStorage("record parent-op extra hint", err)
		}
	}
	return nil
}

func (t *TreeCrdt) finalizeMaterialization(op Operation, hints []NodeId, extras []ExtraHint) error {
	return t.FinalizeLocalMaterialization(op, t.index, t.seq, hints, extras)
}

func (t *TreeCrdt) nextLocalMeta() OperationMetadata {
	t.localCounter++
	lamport := t.clock.Tick()
	return OperationMetadata{ID: OperationId{Replica: t.replica, Counter: t.localCounter}, Lamport: lamport}
}

func (t *TreeCrdt) commitLocal(op Operation) error {
	ok, err := t.storage.Apply(op)
	if err != nil {
		return errStorage("persist local operation", err)
	}
	if !ok {
		return errStorage("local operation id collided in storage", nil)
	}
	t.materializeLocal(op)
	return nil
}

func (t *TreeCrdt) materializeLocal(op Operation) {
	key := keyOf(op)
	applied := TryIncrementalMaterialization(t.dirty, func() error {
		t.seq++
		touched := t.applyOpToState(op)
		return t.finalizeMaterialization(op, touched, nil)
	}, func() {
		t.dirty = true
	})
	if applied {
		t.maxAppliedKey = key
		t.hasApplied = true
	}
}

// LocalInsert stamps, persists, and applies an Insert of node under parent,
// ordered after the sibling named by after (or at the head of the sibling
// list if after is nil), with the given initial payload.
func (t *TreeCrdt) LocalInsert(parent, node NodeId, after *NodeId, payload []byte) (Operation, error) {
	if node == RootID || node == TrashID {
		return Operation{}, errInvalidOperation("insert node cannot be ROOT or TRASH")
	}
	draft := Operation{Kind: KindInsert, Parent: parent, Node: node, After: after, Payload: payload}
	if err := t.access.Authorize(draft); err != nil {
		return Operation{}, errAccessDenied(err.Error())
	}
	op := NewInsert(t.nextLocalMeta(), parent, node, after, payload)
	if err := t.commitLocal(op); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// LocalInsertAfter is LocalInsert without an initial payload.
func (t *TreeCrdt) LocalInsertAfter(parent, node NodeId, after *NodeId) (Operation, error) {
	return t.LocalInsert(parent, node, after, nil)
}

// LocalMove stamps, persists, and applies a Move of node to newParent. If
// the move would create a cycle it is still recorded but has no effect on
// the materialized state.
func (t *TreeCrdt) LocalMove(node, newParent NodeId, after *NodeId) (Operation, error) {
	if node == RootID || node == TrashID {
		return Operation{}, errInvalidOperation("cannot move ROOT or TRASH")
	}
	draft := Operation{Kind: KindMove, Node: node, NewParent: newParent, After: after}
	if err := t.access.Authorize(draft); err != nil {
		return Operation{}, errAccessDenied(err.Error())
	}
	op := NewMove(t.nextLocalMeta(), node, newParent, after)
	if err := t.commitLocal(op); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// LocalDelete stamps, persists, and applies a defensive delete of node
// (reparenting it to TRASH), with an optional tombstone payload.
func (t *TreeCrdt) LocalDelete(node NodeId, tombstone []byte) (Operation, error) {
	if node == RootID || node == TrashID {
		return Operation{}, errInvalidOperation("cannot delete ROOT or TRASH")
	}
	draft := Operation{Kind: KindDelete, Node: node, Tombstone: tombstone}
	if err := t.access.Authorize(draft); err != nil {
		return Operation{}, errAccessDenied(err.Error())
	}
	op := NewDelete(t.nextLocalMeta(), node, tombstone)
	if err := t.commitLocal(op); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// LocalSetPayload stamps, persists, and applies a payload replacement for
// node.
func (t *TreeCrdt) LocalSetPayload(node NodeId, payload []byte) (Operation, error) {
	if node == RootID || node == TrashID {
		return Operation{}, errInvalidOperation("cannot set payload on ROOT or TRASH")
	}
	draft := Operation{Kind: KindSetPayload, Node: node, Payload: payload}
	if err := t.access.Authorize(draft); err != nil {
		return Operation{}, errAccessDenied(err.Error())
	}
	op := NewSetPayload(t.nextLocalMeta(), node, payload)
	if err := t.commitLocal(op); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// ApplyRemote integrates an operation observed from another replica. It
// returns false (with no error) if the operation's id was already seen —
// application is idempotent. A denied operation is neither persisted nor
// materialized and surfaces as a KindAccessDenied error.
func (t *TreeCrdt) ApplyRemote(op Operation) (bool, error) {
	if err := t.access.Authorize(op); err != nil {
		return false, errAccessDenied(err.Error())
	}
	t.clock.Observe(op.Meta.Lamport)

	ok, err := t.storage.Apply(op)
	if err != nil {
		return false, errStorage("persist remote operation", err)
	}
	if !ok {
		return false, nil
	}

	key := keyOf(op)
	isTail := !t.hasApplied || cmpOpKey(t.maxAppliedKey, key) < 0
	applied := TryIncrementalMaterialization(t.dirty, func() error {
		if !isTail {
			return errNotTail
		}
		t.seq++
		touched := t.applyOpToState(op)
		return t.finalizeMaterialization(op, touched, nil)
	}, func() {
		t.dirty = true
		t.logger.Debug().
			Str("op", op.Meta.ID.String()).
			Msg("remote operation landed mid-order; materialization deferred to next read")
	})
	if applied {
		t.maxAppliedKey = key
		t.hasApplied = true
	}
	return true, nil
}

// EnsureMaterialized recomputes the derived state from the full operation
// log if the dirty flag is set, otherwise it is a no-op. Every read method
// calls this first; hosts rarely need to call it directly.
func (t *TreeCrdt) EnsureMaterialized() error {
	if !t.dirty {
		return nil
	}
	return t.fullRematerialize()
}

func (t *TreeCrdt) fullRematerialize() error {
	ops, err := t.storage.LoadSince(0)
	if err != nil {
		return errStorage("load operations for rematerialization", err)
	}
	sort.Slice(ops, func(i, j int) bool { return cmpOps(ops[i], ops[j]) < 0 })

	t.nodes = make(map[NodeId]*nodeRecord)
	t.children = make(map[NodeId][]childEntry)
	t.pending = make(map[NodeId][]Operation)
	if err := t.index.Reset(); err != nil {
		return errStorage("reset parent-op index", err)
	}
	t.seq = 0

	for _, op := range ops {
		t.seq++
		touched := t.applyOpToState(op)
		if err := t.finalizeMaterialization(op, touched, nil); err != nil {
			return err
		}
	}

	if len(ops) > 0 {
		t.maxAppliedKey = keyOf(ops[len(ops)-1])
		t.hasApplied = true
	} else {
		t.hasApplied = false
	}
	t.dirty = false
	t.logger.Debug().Int("ops", len(ops)).Msg("rematerialized tree state from full log")
	return nil
}

// ReplayFromStorage reseeds the clock and local counter from storage's
// recorded high-water marks (so post-restart local operations never
// collide with pre-restart ones) and recomputes the derived state from the
// full log. Hosts reattaching to a document with existing history must
// call this once after New.
func (t *TreeCrdt) ReplayFromStorage() error {
	lamport, err := t.storage.LatestLamport()
	if err != nil {
		return errStorage("read latest lamport", err)
	}
	counter, err := t.storage.LatestCounter(t.replica)
	if err != nil {
		return errStorage("read latest counter", err)
	}
	t.clock.Reset(lamport)
	t.localCounter = counter
	t.dirty = true
	return t.EnsureMaterialized()
}

// Parent returns the current parent of n, or (_, false, nil) if n has no
// materialized parent entry (including when n is ROOT, which has none).
func (t *TreeCrdt) Parent(n NodeId) (NodeId, bool, error) {
	if err := t.EnsureMaterialized(); err != nil {
		return NodeId{}, false, err
	}
	if n == RootID {
		return NodeId{}, false, nil
	}
	rec, ok := t.nodes[n]
	if !ok {
		return NodeId{}, false, nil
	}
	return rec.parent, true, nil
}

// Children returns the ordered sibling list under parent.
func (t *TreeCrdt) Children(parent NodeId) ([]NodeId, error) {
	if err := t.EnsureMaterialized(); err != nil {
		return nil, err
	}
	list := t.children[parent]
	out := make([]NodeId, len(list))
	for i, e := range list {
		out[i] = e.node
	}
	return out, nil
}

// Payload returns the current opaque payload for n.
func (t *TreeCrdt) Payload(n NodeId) ([]byte, bool, error) {
	if err := t.EnsureMaterialized(); err != nil {
		return nil, false, err
	}
	rec, ok := t.nodes[n]
	if !ok {
		return nil, false, nil
	}
	return rec.payload, true, nil
}

// Nodes returns every materialized (node, parent) pair, sorted by NodeId so
// the result is directly comparable across replicas regardless of map
// iteration order.
func (t *TreeCrdt) Nodes() ([]NodeEdge, error) {
	if err := t.EnsureMaterialized(); err != nil {
		return nil, err
	}
	out := make([]NodeEdge, 0, len(t.nodes))
	for n, rec := range t.nodes {
		out = append(out, NodeEdge{Node: n, Parent: rec.parent})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node.Compare(out[j].Node) < 0 })
	return out, nil
}

// ValidateInvariants asserts that the tree's core invariants hold: every
// node has exactly one parent entry, the parent relation is cycle-free
// (terminating at ROOT or TRASH), and the children index agrees with the
// parent map. It is used by tests and after replay, not on the hot path —
// the merge engine prevents violations by construction.
func (t *TreeCrdt) ValidateInvariants() error {
	if err := t.EnsureMaterialized(); err != nil {
		return err
	}

	bound := len(t.nodes) + 2
	for n, rec := range t.nodes {
		cur := rec.parent
		reached := false
		for steps := 0; steps < bound; steps++ {
			if cur == RootID || cur == TrashID {
				reached = true
				break
			}
			next, ok := t.nodes[cur]
			if !ok {
				return errInconsistentState(fmt.Sprintf("node %s has a dangling parent %s", n, cur))
			}
			cur = next.parent
		}
		if !reached {
			return errInconsistentState(fmt.Sprintf("cycle detected reaching node %s", n))
		}
	}

	parentOf := make(map[NodeId]NodeId, len(t.nodes))
	for parent, list := range t.children {
		for _, e := range list {
			if existing, ok := parentOf[e.node]; ok {
				return errInconsistentState(fmt.Sprintf("node %s listed under two parents: %s and %s", e.node, existing, parent))
			}
			parentOf[e.node] = parent
		}
	}
	for n, rec := range t.nodes {
		p, ok := parentOf[n]
		if !ok || p != rec.parent {
			return errInconsistentState(fmt.Sprintf("node %s missing from children list of its parent %s", n, rec.parent))
		}
	}
	return nil
}

func (t *TreeCrdt) nodeExists(n NodeId) bool {
	if n == RootID || n == TrashID {
		return true
	}
	_, ok := t.nodes[n]
	return ok
}

// isDescendantOf reports whether candidate is, transitively, a child of
// ancestor in the current materialized state — the cycle-prevention check
// for Move(node=ancestor, newParent=candidate).
func (t *TreeCrdt) isDescendantOf(candidate, ancestor NodeId) bool {
	cur := candidate
	bound := len(t.nodes) + 2
	for steps := 0; steps < bound; steps++ {
		if cur == ancestor {
			return true
		}
		if cur == RootID || cur == TrashID {
			return false
		}
		rec, ok := t.nodes[cur]
		if !ok {
			return false
		}
		cur = rec.parent
	}
	return false
}

func (t *TreeCrdt) buffer(missing NodeId, op Operation) {
	if t.pending == nil {
		t.pending = make(map[NodeId][]Operation)
	}
	t.pending[missing] = append(t.pending[missing], op)
	t.logger.Debug().
		Str("op", op.Meta.ID.String()).
		Str("missing", missing.String()).
		Msg("buffered operation pending creation of referenced node")
}

// unblock replays every operation buffered on node's creation, now that
// node exists, and returns every parent touched while doing so.
func (t *TreeCrdt) unblock(node NodeId) []NodeId {
	pend := t.pending[node]
	if len(pend) == 0 {
		return nil
	}
	delete(t.pending, node)
	var touched []NodeId
	for _, op := range pend {
		touched = append(touched, t.applyOpToState(op)...)
	}
	return touched
}

// applyOpToState dispatches op to the per-kind handler and returns the set
// of parents whose children list was touched (for parent-op index hints).
func (t *TreeCrdt) applyOpToState(op Operation) []NodeId {
	switch op.Kind {
	case KindInsert:
		return t.applyInsert(op)
	case KindMove:
		return t.applyMove(op)
	case KindDelete:
		return t.applyDelete(op)
	case KindSetPayload:
		return t.applySetPayload(op)
	default:
		return nil
	}
}

func (t *TreeCrdt) applyInsert(op Operation) []NodeId {
	node := op.Node
	parent := op.Parent
	if node == RootID || node == TrashID {
		return nil
	}
	if _, exists := t.nodes[node]; exists {
		return nil
	}
	if !t.nodeExists(parent) {
		t.buffer(parent, op)
		return nil
	}
	rec := &nodeRecord{
		parent:         parent,
		payload:        op.Payload,
		payloadLamport: op.Meta.Lamport,
		payloadReplica: op.Meta.ID.Replica,
	}
	t.nodes[node] = rec
	t.children[parent] = insertSibling(t.children[parent], node, op.After, keyOf(op))
	touched := []NodeId{parent}
	return append(touched, t.unblock(node)...)
}

func (t *TreeCrdt) applyMove(op Operation) []NodeId {
	node := op.Node
	rec, ok := t.nodes[node]
	if !ok {
		t.buffer(node, op)
		return nil
	}
	newParent := op.NewParent
	if !t.nodeExists(newParent) {
		t.buffer(newParent, op)
		return nil
	}
	if rec.parent == TrashID {
		return nil
	}
	if newParent == node || t.isDescendantOf(newParent, node) {
		t.logger.Debug().
			Str("node", node.String()).
			Str("new_parent", newParent.String()).
			Msg("move blocked: would create a cycle")
		return nil
	}

	oldParent := rec.parent
	t.children[oldParent] = removeChild(t.children[oldParent], node)
	rec.parent = newParent
	t.children[newParent] = insertSibling(t.children[newParent], node, op.After, keyOf(op))

	touched := []NodeId{oldParent, newParent}
	return append(touched, t.unblock(node)...)
}

func (t *TreeCrdt) applyDelete(op Operation) []NodeId {
	node := op.Node
	rec, ok := t.nodes[node]
	if !ok {
		t.buffer(node, op)
		return nil
	}
	if rec.parent == TrashID {
		return nil
	}
	oldParent := rec.parent
	t.children[oldParent] = removeChild(t.children[oldParent], node)
	rec.parent = TrashID
	rec.tombstone = op.Tombstone
	rec.hasTombstone = true
	t.children[TrashID] = insertSibling(t.children[TrashID], node, nil, keyOf(op))

	touched := []NodeId{oldParent, TrashID}
	return append(touched, t.unblock(node)...)
}

func (t *TreeCrdt) applySetPayload(op Operation) []NodeId {
	node := op.Node
	rec, ok := t.nodes[node]
	if !ok {
		t.buffer(node, op)
		return nil
	}
	if payloadGreater(op.Meta.Lamport, op.Meta.ID.Replica, rec.payloadLamport, rec.payloadReplica) {
		rec.payload = op.Payload
		rec.payloadLamport = op.Meta.Lamport
		rec.payloadReplica = op.Meta.ID.Replica
	}
	return []NodeId{rec.parent}
}

// payloadGreater reports whether (lamportA, replicaA) wins the last-writer
// -wins comparison against (lamportB, replicaB): higher lamport wins,
// ties broken by replica bytes ascending.
func payloadGreater(lamportA Lamport, replicaA ReplicaId, lamportB Lamport, replicaB ReplicaId) bool {
	if lamportA != lamportB {
		return lamportA > lamportB
	}
	return replicaA.Compare(replicaB) > 0
}

// insertSibling places node into an ordered sibling slice at the position
// determined by its "after" anchor and total-order key: scan past every
// existing entry that shares the same anchor and has a strictly greater
// key, then insert. Entries are never mutated in place — a fresh slice is
// returned, since child lists are also read by callers that expect a
// stable snapshot.
func insertSibling(list []childEntry, node NodeId, after *NodeId, key opKey) []childEntry {
	anchorIdx := -1
	if after != nil {
		for i, e := range list {
			if e.node == *after {
				anchorIdx = i
				break
			}
		}
	}
	insertAt := anchorIdx + 1
	for insertAt < len(list) && sameAnchor(list[insertAt].after, after) && cmpOpKey(list[insertAt].key, key) > 0 {
		insertAt++
	}
	out := make([]childEntry, 0, len(list)+1)
	out = append(out, list[:insertAt]...)
	out = append(out, childEntry{node: node, after: after, key: key})
	out = append(out, list[insertAt:]...)
	return out
}

func sameAnchor(a, b *NodeId) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func removeChild(list []childEntry, node NodeId) []childEntry {
	out := make([]childEntry, 0, len(list))
	for _, e := range list {
		if e.node != node {
			out = append(out, e)
		}
	}
	return out
}
