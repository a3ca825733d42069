package codec

import (
	"bytes"
	"fmt"

	"github.com/ipfs/go-cid"
)

// ScanLinks walks arbitrary canonical DAG-CBOR bytes — not limited to
// the repository's four fixed node schemas — and returns every IPLD
// link (tag 42) reachable within the top-level value's structure. Used
// by the block store to compute the transitive closure of a commit for
// CAR export (spec §4.1 "descendants"): rather than hand-writing a
// link-scanner per node type, one generic walker covers metadata, root,
// commit, and MST nodes, plus arbitrary user record payloads.
func ScanLinks(raw []byte) ([]cid.Cid, error) {
	r := NewReader(bytes.NewReader(raw))
	var links []cid.Cid
	if err := scanValue(r, &links); err != nil {
		return nil, fmt.Errorf("codec: scan links: %w", err)
	}
	return links, nil
}

func scanValue(r *Reader, links *[]cid.Cid) error {
	major, val, err := r.header()
	if err != nil {
		return err
	}
	switch major {
	case majMap:
		for i := uint64(0); i < val; i++ {
			if err := r.skipValue(); err != nil { // key (always text in our encodings)
				return err
			}
			if err := scanValue(r, links); err != nil {
				return err
			}
		}
	case majArray:
		for i := uint64(0); i < val; i++ {
			if err := scanValue(r, links); err != nil {
				return err
			}
		}
	case majTag:
		if val == 42 {
			raw, err := r.ReadByteString()
			if err != nil {
				return err
			}
			if len(raw) == 0 || raw[0] != 0x00 {
				return fmt.Errorf("codec: link bytes missing identity multibase prefix")
			}
			_, c, err := cid.CidFromBytes(raw[1:])
			if err != nil {
				return fmt.Errorf("codec: decode link cid: %w", err)
			}
			*links = append(*links, c)
			return nil
		}
		return scanValue(r, links) // unknown tag: recurse into tagged value
	default:
		return r.skipOne(major, val)
	}
	return nil
}
