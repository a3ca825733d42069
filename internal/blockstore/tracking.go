package blockstore

import (
	"io"

	"github.com/ipfs/go-cid"

	"github.com/primal-host/primal-pds/internal/codec"
)

// Tracking wraps a transaction and records which CIDs it writes, so the
// caller can later export only the new blocks as a diff CAR for firehose
// payloads. Direct generalization of the teacher's TrackingBlockstore,
// which snapshotted an in-memory map's keys at creation time; here the
// "preloaded" set is simply empty, since a Tracking is created fresh per
// commit and only ever sees the new blocks that commit writes.
type Tracking struct {
	tx  *Tx
	new []cid.Cid
}

// NewTracking wraps tx for new-block tracking within one commit.
func NewTracking(tx *Tx) *Tracking {
	return &Tracking{tx: tx}
}

// PutBlock stores a block and records its CID as new.
func (t *Tracking) PutBlock(codecTag uint64, raw []byte) (cid.Cid, error) {
	c, err := t.tx.PutBlock(codecTag, raw)
	if err != nil {
		return cid.Undef, err
	}
	t.new = append(t.new, c)
	return c, nil
}

// GetBlock reads a block written earlier in the same transaction.
func (t *Tracking) GetBlock(c cid.Cid) ([]byte, bool, error) {
	return t.tx.GetBlock(c)
}

// NewBlocks returns the CIDs written through this Tracking, in write order.
func (t *Tracking) NewBlocks() []cid.Cid {
	return t.new
}

// ExportDiffCAR writes a CAR v1 archive containing commitCID first,
// followed by every other block recorded as new, matching the teacher's
// ExportDiffCAR contract used to build firehose commit payloads.
func (t *Tracking) ExportDiffCAR(w io.Writer, commitCID cid.Cid) error {
	if err := codec.WriteCARHeader(w, []cid.Cid{commitCID}); err != nil {
		return err
	}
	wrote := map[string]bool{}
	if raw, ok, err := t.tx.GetBlock(commitCID); err != nil {
		return err
	} else if ok {
		if err := codec.WriteCARBlock(w, commitCID, raw); err != nil {
			return err
		}
		wrote[commitCID.KeyString()] = true
	}
	for _, c := range t.new {
		if wrote[c.KeyString()] {
			continue
		}
		raw, ok, err := t.tx.GetBlock(c)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := codec.WriteCARBlock(w, c, raw); err != nil {
			return err
		}
		wrote[c.KeyString()] = true
	}
	return nil
}
