package treecrdt

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Snapshot is a read-only view over a TreeCrdt's materialized state, taken
// under the tree's own materialization (any call ensures a fresh
// rematerialization if the tree is dirty). Hosts that re-derive children
// lists frequently — a browser repaint, a SQL table-valued function call —
// can wrap one in a CachedSnapshot instead of hitting TreeCrdt.Children on
// every call.
type Snapshot interface {
	Parent(n NodeId) (NodeId, bool, error)
	Children(parent NodeId) ([]NodeId, error)
	Payload(n NodeId) ([]byte, bool, error)
	Nodes() ([]NodeEdge, error)
}

// treeSnapshot adapts a *TreeCrdt directly to Snapshot.
type treeSnapshot struct {
	tree *TreeCrdt
}

// AsSnapshot exposes t as a Snapshot.
func (t *TreeCrdt) AsSnapshot() Snapshot {
	return treeSnapshot{tree: t}
}

func (s treeSnapshot) Parent(n NodeId) (NodeId, bool, error)   { return s.tree.Parent(n) }
func (s treeSnapshot) Children(p NodeId) ([]NodeId, error)     { return s.tree.Children(p) }
func (s treeSnapshot) Payload(n NodeId) ([]byte, bool, error)  { return s.tree.Payload(n) }
func (s treeSnapshot) Nodes() ([]NodeEdge, error)              { return s.tree.Nodes() }

// CachedSnapshot wraps a Snapshot with an LRU cache of children lookups,
// keyed by parent NodeId. It is advisory: Invalidate (or a fresh
// CachedSnapshot) is all that's required for correctness, since a stale
// cache only returns outdated ordering/membership, never corrupts the
// underlying tree.
type CachedSnapshot struct {
	inner    Snapshot
	children *lru.Cache[NodeId, []NodeId]
}

// NewCachedSnapshot wraps inner with an LRU of the given size for Children
// lookups.
func NewCachedSnapshot(inner Snapshot, size int) (*CachedSnapshot, error) {
	cache, err := lru.New[NodeId, []NodeId](size)
	if err != nil {
		return nil, errStorage("construct snapshot cache", err)
	}
	return &CachedSnapshot{inner: inner, children: cache}, nil
}

// Parent delegates directly; parent lookups are already O(1) on the
// underlying tree, so caching them buys nothing.
func (c *CachedSnapshot) Parent(n NodeId) (NodeId, bool, error) {
	return c.inner.Parent(n)
}

// Children returns the cached child list for parent if present, otherwise
// fetches, caches, and returns it.
func (c *CachedSnapshot) Children(parent NodeId) ([]NodeId, error) {
	if cached, ok := c.children.Get(parent); ok {
		out := make([]NodeId, len(cached))
		copy(out, cached)
		return out, nil
	}
	children, err := c.inner.Children(parent)
	if err != nil {
		return nil, err
	}
	c.children.Add(parent, children)
	out := make([]NodeId, len(children))
	copy(out, children)
	return out, nil
}

// Payload delegates directly.
func (c *CachedSnapshot) Payload(n NodeId) ([]byte, bool, error) {
	return c.inner.Payload(n)
}

// Nodes delegates directly; a full dump is already a single pass.
func (c *CachedSnapshot) Nodes() ([]NodeEdge, error) {
	return c.inner.Nodes()
}

// Invalidate drops every cached children list. Call after any apply so a
// subsequent Children call re-reads the underlying tree.
func (c *CachedSnapshot) Invalidate() {
	c.children.Purge()
}
