// Package mst implements the repository's Merkle Search Tree: a
// deterministic, content-addressed ordered map from string keys to value
// CIDs. It is grounded on original_source/adenosine-pds/src/mst.rs,
// translated field-for-field rather than routed through indigo's own
// atproto/repo/mst package, since reproducing the exact construction
// algorithm — not just consuming a compatible tree — is the point of
// this component.
package mst

import (
	"bytes"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/primal-host/primal-pds/internal/codec"
)

// Entry is one key/value pairing within a node, prefix-compressed
// against the previous entry in the same node.
type Entry struct {
	PrefixLen int      // p: bytes shared with the previous entry's full key
	KeySuffix []byte   // k: the remaining key suffix
	Value     cid.Cid  // v: value CID
	Tree      *cid.Cid // t: right subtree, strictly between this key and the next
}

// Node is one MST node: an optional left subtree plus an ascending,
// prefix-compressed entry list.
type Node struct {
	Left    *cid.Cid
	Entries []Entry
}

// MarshalCBOR encodes n in canonical DAG-CBOR map-key order: length
// first, then byte-lexicographic — for n's single-byte keys "e" and
// "l" that sorts as e, l, and for an entry's single-byte keys
// "k","p","t","v" that sorts as k, p, t, v. KeySuffix is encoded as a
// CBOR text string, matching the node schema's key type.
func (n *Node) MarshalCBOR() ([]byte, error) {
	w := codec.NewWriter()
	if err := w.WriteMapHeader(2); err != nil {
		return nil, err
	}
	if err := w.WriteTextString("e"); err != nil {
		return nil, err
	}
	if err := w.WriteArrayHeader(len(n.Entries)); err != nil {
		return nil, err
	}
	for i := range n.Entries {
		if err := n.Entries[i].marshalInto(w); err != nil {
			return nil, err
		}
	}
	if err := w.WriteTextString("l"); err != nil {
		return nil, err
	}
	if err := w.WriteOptionalLink(n.Left); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (e *Entry) marshalInto(w *codec.Writer) error {
	if err := w.WriteMapHeader(4); err != nil {
		return err
	}
	if err := w.WriteTextString("k"); err != nil {
		return err
	}
	if err := w.WriteTextString(string(e.KeySuffix)); err != nil {
		return err
	}
	if err := w.WriteTextString("p"); err != nil {
		return err
	}
	if err := w.WriteUint(uint64(e.PrefixLen)); err != nil {
		return err
	}
	if err := w.WriteTextString("t"); err != nil {
		return err
	}
	if err := w.WriteOptionalLink(e.Tree); err != nil {
		return err
	}
	if err := w.WriteTextString("v"); err != nil {
		return err
	}
	return w.WriteLink(e.Value)
}

// DecodeNode parses a node from canonical bytes, rejecting anything
// whose field order or shape does not match the fixed schema.
func DecodeNode(raw []byte) (*Node, error) {
	r := codec.NewReader(bytes.NewReader(raw))
	n, err := r.ReadMapHeader()
	if err != nil {
		return nil, fmt.Errorf("mst: decode node: %w", err)
	}
	if n != 2 {
		return nil, fmt.Errorf("mst: decode node: expected 2 fields, got %d", n)
	}
	node := &Node{}

	key, err := r.ReadTextString()
	if err != nil {
		return nil, err
	}
	if key != "e" {
		return nil, fmt.Errorf("mst: decode node: expected field \"e\", got %q", key)
	}
	count, err := r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	node.Entries = make([]Entry, count)
	for i := 0; i < count; i++ {
		e, err := decodeEntry(r)
		if err != nil {
			return nil, err
		}
		node.Entries[i] = e
	}

	key, err = r.ReadTextString()
	if err != nil {
		return nil, err
	}
	if key != "l" {
		return nil, fmt.Errorf("mst: decode node: expected field \"l\", got %q", key)
	}
	node.Left, err = r.ReadOptionalLink()
	if err != nil {
		return nil, err
	}

	return node, nil
}

func decodeEntry(r *codec.Reader) (Entry, error) {
	var e Entry
	n, err := r.ReadMapHeader()
	if err != nil {
		return e, err
	}
	if n != 4 {
		return e, fmt.Errorf("mst: decode entry: expected 4 fields, got %d", n)
	}

	expect := func(name string) error {
		key, err := r.ReadTextString()
		if err != nil {
			return err
		}
		if key != name {
			return fmt.Errorf("mst: decode entry: expected field %q, got %q", name, key)
		}
		return nil
	}

	if err := expect("k"); err != nil {
		return e, err
	}
	keySuffix, err := r.ReadTextString()
	if err != nil {
		return e, err
	}
	e.KeySuffix = []byte(keySuffix)

	if err := expect("p"); err != nil {
		return e, err
	}
	p, err := r.ReadUint()
	if err != nil {
		return e, err
	}
	e.PrefixLen = int(p)

	if err := expect("t"); err != nil {
		return e, err
	}
	e.Tree, err = r.ReadOptionalLink()
	if err != nil {
		return e, err
	}

	if err := expect("v"); err != nil {
		return e, err
	}
	e.Value, err = r.ReadLink()
	if err != nil {
		return e, err
	}

	return e, nil
}
