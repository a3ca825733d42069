package mst

import (
	"sort"

	"github.com/ipfs/go-cid"

	"github.com/primal-host/primal-pds/internal/codec"
)

// BlockAccess is the minimal block store surface this package needs:
// write new node blocks and read existing ones. Satisfied by both
// *blockstore.Store and *blockstore.Tracking, so the repo commit
// pipeline can build a tree against a tracked transaction while other
// callers (verification, export) use a plain store handle.
type BlockAccess interface {
	PutBlock(codecTag uint64, raw []byte) (cid.Cid, error)
	GetBlock(c cid.Cid) ([]byte, bool, error)
}

// wipEntry is one entry of a work-in-progress node during construction,
// holding the full (uncompressed) key rather than a prefix-compressed
// suffix; compression happens at serialization time once every entry's
// final neighbor is known.
type wipEntry struct {
	key   string
	value cid.Cid
	right *wipNode
}

type wipNode struct {
	height  int
	left    *wipNode
	entries []wipEntry
}

// Build constructs an MST from a complete key→value map and writes every
// node it produces to store, returning the root CID. Grounded on
// mst.rs's generate_mst/insert_entry/serialize_wip_tree: a BTreeMap
// iteration (here, sorted keys) drives insertEntry to build an in-memory
// "work in progress" tree, which is then serialized bottom-up.
func Build(store BlockAccess, entries map[string]cid.Cid) (cid.Cid, error) {
	if len(entries) == 0 {
		return serializeEmpty(store)
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var root *wipNode
	for _, k := range keys {
		root = insertEntry(root, k, Height(k), entries[k])
	}
	return serializeWip(store, root)
}

// insertEntry places (key, value) into the work-in-progress tree rooted
// at node, per mst.rs's insert_entry: entries taller than the current
// root become the new root with the old root as their left subtree;
// entries at the same height append to the root's entry list; shorter
// entries descend into the rightmost entry's right subtree, which is
// created on demand.
func insertEntry(node *wipNode, key string, height int, value cid.Cid) *wipNode {
	if node == nil {
		return &wipNode{height: height, entries: []wipEntry{{key: key, value: value}}}
	}
	switch {
	case height > node.height:
		return &wipNode{height: height, left: node, entries: []wipEntry{{key: key, value: value}}}
	case height == node.height:
		node.entries = append(node.entries, wipEntry{key: key, value: value})
		return node
	default:
		last := &node.entries[len(node.entries)-1]
		last.right = insertEntry(last.right, key, height, value)
		return node
	}
}

// serializeEmpty writes the canonical empty-tree node: l = none, e = [].
func serializeEmpty(store BlockAccess) (cid.Cid, error) {
	raw, err := (&Node{}).MarshalCBOR()
	if err != nil {
		return cid.Undef, err
	}
	return store.PutBlock(codec.DagCBOR, raw)
}

// serializeWip recursively serializes n's left subtree and each entry's
// right subtree first, then emits n with prefix-compressed entries,
// mirroring mst.rs's serialize_wip_tree.
func serializeWip(store BlockAccess, n *wipNode) (cid.Cid, error) {
	var left *cid.Cid
	if n.left != nil {
		c, err := serializeWip(store, n.left)
		if err != nil {
			return cid.Undef, err
		}
		left = &c
	}

	node := &Node{Left: left}
	var lastKey string
	for i, e := range n.entries {
		var tree *cid.Cid
		if e.right != nil {
			c, err := serializeWip(store, e.right)
			if err != nil {
				return cid.Undef, err
			}
			tree = &c
		}
		prefixLen := 0
		if i > 0 {
			prefixLen = commonPrefixLen(lastKey, e.key)
		}
		node.Entries = append(node.Entries, Entry{
			PrefixLen: prefixLen,
			KeySuffix: []byte(e.key[prefixLen:]),
			Value:     e.value,
			Tree:      tree,
		})
		lastKey = e.key
	}

	raw, err := node.MarshalCBOR()
	if err != nil {
		return cid.Undef, err
	}
	return store.PutBlock(codec.DagCBOR, raw)
}
