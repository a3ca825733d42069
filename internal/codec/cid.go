// Package codec implements the canonical DAG-CBOR encoding used for the
// repository's fixed node schemas (metadata/root/commit/MST nodes), CID
// derivation, and CAR v1 streaming.
package codec

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Codec tags used throughout the repository.
const (
	DagCBOR = cid.DagCBOR
	Raw     = cid.Raw
)

// ComputeCID returns a CIDv1 (SHA2-256, given codec) for raw bytes, the
// same construction the teacher used for record CIDs, generalized to any
// codec so the node types in internal/repo and internal/mst can share it.
func ComputeCID(codec uint64, raw []byte) (cid.Cid, error) {
	builder := cid.NewPrefixV1(codec, multihash.SHA2_256)
	return builder.Sum(raw)
}
