package repo

import (
	"bytes"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/primal-host/primal-pds/internal/codec"
)

// MetadataNode is spec.md §3's metadata node:
// { datastore: "mst", did: <DID>, version: 1 }. Rewritten only if the
// DID or schema version changes.
type MetadataNode struct {
	Datastore string
	DID       string
	Version   uint64
}

// MarshalCBOR encodes n in canonical DAG-CBOR map-key order: length
// first, then byte-lexicographic, which for this node's field names
// works out to did, version, datastore.
func (n *MetadataNode) MarshalCBOR() ([]byte, error) {
	w := codec.NewWriter()
	if err := w.WriteMapHeader(3); err != nil {
		return nil, err
	}
	if err := w.WriteTextString("did"); err != nil {
		return nil, err
	}
	if err := w.WriteTextString(n.DID); err != nil {
		return nil, err
	}
	if err := w.WriteTextString("version"); err != nil {
		return nil, err
	}
	if err := w.WriteUint(n.Version); err != nil {
		return nil, err
	}
	if err := w.WriteTextString("datastore"); err != nil {
		return nil, err
	}
	if err := w.WriteTextString(n.Datastore); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeMetadataNode(raw []byte) (*MetadataNode, error) {
	r := codec.NewReader(bytes.NewReader(raw))
	n, err := r.ReadMapHeader()
	if err != nil {
		return nil, err
	}
	if n != 3 {
		return nil, fmt.Errorf("repo: decode metadata node: expected 3 fields, got %d", n)
	}
	node := &MetadataNode{}
	for i := 0; i < 3; i++ {
		key, err := r.ReadTextString()
		if err != nil {
			return nil, err
		}
		switch key {
		case "datastore":
			if node.Datastore, err = r.ReadTextString(); err != nil {
				return nil, err
			}
		case "did":
			if node.DID, err = r.ReadTextString(); err != nil {
				return nil, err
			}
		case "version":
			if node.Version, err = r.ReadUint(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("repo: decode metadata node: unexpected field %q", key)
		}
	}
	return node, nil
}

// RootNode is spec.md §3's root node:
// { auth_token: Option<String>, prev: Option<CID→Commit>,
//   meta: CID→Metadata, data: CID→MST root }.
type RootNode struct {
	AuthToken *string
	Prev      *cid.Cid
	Meta      cid.Cid
	Data      cid.Cid
}

// MarshalCBOR encodes n in canonical DAG-CBOR map-key order: length
// first, then byte-lexicographic. data, meta, and prev are all 4 bytes
// and sort lexicographically among themselves; auth_token is longest
// and comes last.
func (n *RootNode) MarshalCBOR() ([]byte, error) {
	w := codec.NewWriter()
	if err := w.WriteMapHeader(4); err != nil {
		return nil, err
	}
	if err := w.WriteTextString("data"); err != nil {
		return nil, err
	}
	if err := w.WriteLink(n.Data); err != nil {
		return nil, err
	}
	if err := w.WriteTextString("meta"); err != nil {
		return nil, err
	}
	if err := w.WriteLink(n.Meta); err != nil {
		return nil, err
	}
	if err := w.WriteTextString("prev"); err != nil {
		return nil, err
	}
	if err := w.WriteOptionalLink(n.Prev); err != nil {
		return nil, err
	}
	if err := w.WriteTextString("auth_token"); err != nil {
		return nil, err
	}
	if n.AuthToken == nil {
		if err := w.WriteNil(); err != nil {
			return nil, err
		}
	} else if err := w.WriteTextString(*n.AuthToken); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeRootNode(raw []byte) (*RootNode, error) {
	r := codec.NewReader(bytes.NewReader(raw))
	n, err := r.ReadMapHeader()
	if err != nil {
		return nil, err
	}
	if n != 4 {
		return nil, fmt.Errorf("repo: decode root node: expected 4 fields, got %d", n)
	}
	node := &RootNode{}
	for i := 0; i < 4; i++ {
		key, err := r.ReadTextString()
		if err != nil {
			return nil, err
		}
		switch key {
		case "auth_token":
			isNil, err := r.IsNil()
			if err != nil {
				return nil, err
			}
			if isNil {
				if err := r.ReadNil(); err != nil {
					return nil, err
				}
			} else {
				s, err := r.ReadTextString()
				if err != nil {
					return nil, err
				}
				node.AuthToken = &s
			}
		case "prev":
			if node.Prev, err = r.ReadOptionalLink(); err != nil {
				return nil, err
			}
		case "meta":
			if node.Meta, err = r.ReadLink(); err != nil {
				return nil, err
			}
		case "data":
			if node.Data, err = r.ReadLink(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("repo: decode root node: unexpected field %q", key)
		}
	}
	return node, nil
}

// CommitNode is spec.md §3's commit node: { root: CID→Root, sig: bytes }.
// The signature is over the raw bytes of the referenced root CID's
// string form (root.String()), made with the account's signing key (see
// DESIGN.md's Open Question decisions for why the string form, not the
// root node's raw bytes, is signed).
type CommitNode struct {
	Root cid.Cid
	Sig  []byte
}

// MarshalCBOR encodes n in canonical DAG-CBOR map-key order: length
// first, then byte-lexicographic, which puts sig (3 bytes) before
// root (4 bytes).
func (n *CommitNode) MarshalCBOR() ([]byte, error) {
	w := codec.NewWriter()
	if err := w.WriteMapHeader(2); err != nil {
		return nil, err
	}
	if err := w.WriteTextString("sig"); err != nil {
		return nil, err
	}
	if err := w.WriteByteString(n.Sig); err != nil {
		return nil, err
	}
	if err := w.WriteTextString("root"); err != nil {
		return nil, err
	}
	if err := w.WriteLink(n.Root); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeCommitNode(raw []byte) (*CommitNode, error) {
	r := codec.NewReader(bytes.NewReader(raw))
	n, err := r.ReadMapHeader()
	if err != nil {
		return nil, err
	}
	if n != 2 {
		return nil, fmt.Errorf("repo: decode commit node: expected 2 fields, got %d", n)
	}
	node := &CommitNode{}
	for i := 0; i < 2; i++ {
		key, err := r.ReadTextString()
		if err != nil {
			return nil, err
		}
		switch key {
		case "root":
			if node.Root, err = r.ReadLink(); err != nil {
				return nil, err
			}
		case "sig":
			if node.Sig, err = r.ReadByteString(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("repo: decode commit node: unexpected field %q", key)
		}
	}
	return node, nil
}
