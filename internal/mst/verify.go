package mst

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

// Verify reconstructs the key→CID map reachable from root, rebuilds a
// fresh tree from it, and confirms the rebuilt root CID matches root.
// This is spec.md §4.3's "Verification" check, the primary integrity
// gate on CAR import: grounded on mst.rs's repro_mst, which performs the
// same collect-then-regenerate-then-compare round trip.
func Verify(store BlockAccess, root cid.Cid) error {
	extracted, err := ExtractMap(store, root)
	if err != nil {
		return fmt.Errorf("mst: verify: extract: %w", err)
	}
	rebuilt, err := Build(store, extracted)
	if err != nil {
		return fmt.Errorf("mst: verify: rebuild: %w", err)
	}
	if !rebuilt.Equals(root) {
		return fmt.Errorf("mst: verify: rebuilt root %s does not match claimed root %s", rebuilt, root)
	}
	return nil
}
