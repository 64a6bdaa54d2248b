//go:build js && wasm

// Package wasmbridge exposes a treecrdt.TreeCrdt to a JavaScript host via
// syscall/js: a single in-memory instance under a fixed replica id, with
// every mutation a plain exported function call. Node ids cross the boundary
// as 32-char hex strings (or "ROOT"/"TRASH"), payloads as plain strings whose
// bytes are stored as-is, and children lists as a JSON array string; the host
// is responsible for encoding its own payload bytes as it sees fit before
// handing them to Insert/SetPayload.
package wasmbridge

import (
	"encoding/json"
	"fmt"
	"syscall/js"

	"github.com/cshekharsharma/treecrdt"
)

// Version is surfaced to JS as a plain exported function so a host page can
// check which bridge build it loaded.
const Version = "0.1.0"

// Bridge owns a single in-memory TreeCrdt instance and exposes it as a set
// of js.Func callbacks a host page can register globally.
type Bridge struct {
	tree *treecrdt.TreeCrdt
}

// NewBridge constructs a demo instance for replicaID, backed by in-memory
// storage and an always-allow access hook.
func NewBridge(replicaID string) (*Bridge, error) {
	storage := treecrdt.NewMemoryStorage()
	clock := treecrdt.NewLamportClock()
	tree, err := treecrdt.New(treecrdt.NewReplicaId([]byte(replicaID)), storage, clock)
	if err != nil {
		return nil, err
	}
	return &Bridge{tree: tree}, nil
}

// Register installs the bridge's methods as properties of a JS object
// (conventionally `globalThis.treecrdt`), using js.FuncOf for each.
func (b *Bridge) Register(target js.Value) {
	target.Set("version", js.FuncOf(func(js.Value, []js.Value) any { return Version }))
	target.Set("insert", js.FuncOf(b.jsInsert))
	target.Set("move", js.FuncOf(b.jsMove))
	target.Set("delete", js.FuncOf(b.jsDelete))
	target.Set("setPayload", js.FuncOf(b.jsSetPayload))
	target.Set("children", js.FuncOf(b.jsChildren))
	target.Set("parent", js.FuncOf(b.jsParent))
	target.Set("payload", js.FuncOf(b.jsPayload))
}

func jsError(err error) any {
	if err == nil {
		return nil
	}
	return map[string]any{"error": err.Error()}
}

// parseNodeID parses the %016x%016x hex form produced by NodeId.String,
// plus the reserved "ROOT"/"TRASH" spellings.
func parseNodeID(s string) (treecrdt.NodeId, error) {
	switch s {
	case "ROOT":
		return treecrdt.RootID, nil
	case "TRASH":
		return treecrdt.TrashID, nil
	}
	if len(s) != 32 {
		return treecrdt.NodeId{}, fmt.Errorf("wasmbridge: malformed node id %q", s)
	}
	var hi, lo uint64
	if _, err := fmt.Sscanf(s, "%016x%016x", &hi, &lo); err != nil {
		return treecrdt.NodeId{}, fmt.Errorf("wasmbridge: malformed node id %q: %w", s, err)
	}
	return treecrdt.NewNodeID(hi, lo), nil
}

// jsInsert(parentHex, nodeHex, afterHexOrEmpty, payload) -> opId string | {error}
func (b *Bridge) jsInsert(_ js.Value, args []js.Value) any {
	parent, err := parseNodeID(args[0].String())
	if err != nil {
		return jsError(err)
	}
	node, err := parseNodeID(args[1].String())
	if err != nil {
		return jsError(err)
	}
	var after *treecrdt.NodeId
	if s := args[2].String(); s != "" {
		a, err := parseNodeID(s)
		if err != nil {
			return jsError(err)
		}
		after = &a
	}
	payload := []byte(args[3].String())
	op, err := b.tree.LocalInsert(parent, node, after, payload)
	if err != nil {
		return jsError(err)
	}
	return op.Meta.ID.String()
}

func (b *Bridge) jsMove(_ js.Value, args []js.Value) any {
	node, err := parseNodeID(args[0].String())
	if err != nil {
		return jsError(err)
	}
	newParent, err := parseNodeID(args[1].String())
	if err != nil {
		return jsError(err)
	}
	var after *treecrdt.NodeId
	if s := args[2].String(); s != "" {
		a, err := parseNodeID(s)
		if err != nil {
			return jsError(err)
		}
		after = &a
	}
	op, err := b.tree.LocalMove(node, newParent, after)
	if err != nil {
		return jsError(err)
	}
	return op.Meta.ID.String()
}

func (b *Bridge) jsDelete(_ js.Value, args []js.Value) any {
	node, err := parseNodeID(args[0].String())
	if err != nil {
		return jsError(err)
	}
	op, err := b.tree.LocalDelete(node, nil)
	if err != nil {
		return jsError(err)
	}
	return op.Meta.ID.String()
}

func (b *Bridge) jsSetPayload(_ js.Value, args []js.Value) any {
	node, err := parseNodeID(args[0].String())
	if err != nil {
		return jsError(err)
	}
	payload := []byte(args[1].String())
	op, err := b.tree.LocalSetPayload(node, payload)
	if err != nil {
		return jsError(err)
	}
	return op.Meta.ID.String()
}

func (b *Bridge) jsChildren(_ js.Value, args []js.Value) any {
	parent, err := parseNodeID(args[0].String())
	if err != nil {
		return jsError(err)
	}
	children, err := b.tree.Children(parent)
	if err != nil {
		return jsError(err)
	}
	out := make([]any, len(children))
	for i, c := range children {
		out[i] = c.String()
	}
	data, _ := json.Marshal(out)
	return string(data)
}

func (b *Bridge) jsParent(_ js.Value, args []js.Value) any {
	node, err := parseNodeID(args[0].String())
	if err != nil {
		return jsError(err)
	}
	parent, ok, err := b.tree.Parent(node)
	if err != nil {
		return jsError(err)
	}
	if !ok {
		return nil
	}
	return parent.String()
}

func (b *Bridge) jsPayload(_ js.Value, args []js.Value) any {
	node, err := parseNodeID(args[0].String())
	if err != nil {
		return jsError(err)
	}
	payload, ok, err := b.tree.Payload(node)
	if err != nil {
		return jsError(err)
	}
	if !ok {
		return nil
	}
	return string(payload)
}
