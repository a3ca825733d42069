package codec

import (
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
)

// WriteCARHeader writes a CAR v1 header declaring the given root CIDs.
// Generalized from the teacher's repo.MemBlockstore.ExportCAR /
// ExportDiffCAR, which inlined this call; promoted here so the block
// store's export path and any other future CAR producer share one
// implementation.
func WriteCARHeader(w io.Writer, roots []cid.Cid) error {
	h := &car.CarHeader{Roots: roots, Version: 1}
	return car.WriteHeader(h, w)
}

// WriteCARBlock writes one length-prefixed (CID, bytes) frame.
func WriteCARBlock(w io.Writer, c cid.Cid, data []byte) error {
	return carutil.LdWrite(w, c.Bytes(), data)
}

// ReadCAR streams a CAR v1 body, calling put for every block in archive
// order, and returns the declared root CIDs. Bounded memory: at most one
// block is held at a time, matching the spec's requirement that CAR
// streams be readable incrementally regardless of repository size.
//
// Newly built relative to the teacher (which only ever wrote CAR files);
// grounded on original_source/adenosine-pds/src/car.rs's
// load_car_to_blockstore, which streams (cid, raw) pairs off an
// iroh_car.CarReader and Put()s each one, then treats the header's first
// root as the commit to verify — the same shape, adapted to go-car.
func ReadCAR(r io.Reader, put func(c cid.Cid, data []byte) error) ([]cid.Cid, error) {
	cr, err := car.NewCarReader(r)
	if err != nil {
		return nil, fmt.Errorf("codec: open car: %w", err)
	}

	for {
		blk, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("codec: read car block: %w", err)
		}
		if err := put(blk.Cid(), blk.RawData()); err != nil {
			return nil, fmt.Errorf("codec: store car block %s: %w", blk.Cid(), err)
		}
	}

	return cr.Header.Roots, nil
}
