package blockstore

import (
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "repo.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testCID(t *testing.T, data []byte) cid.Cid {
	t.Helper()
	h, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		t.Fatalf("mh.Sum: %v", err)
	}
	return cid.NewCidV1(cid.DagCBOR, h)
}

func TestResolveRevUnsetReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	rev, ok, err := s.ResolveRev("did:plc:alice")
	if err != nil {
		t.Fatalf("ResolveRev: %v", err)
	}
	if ok || rev != "" {
		t.Fatalf("expected no rev for a name never set, got (%q, %v)", rev, ok)
	}
}

func TestSetRevThenResolve(t *testing.T) {
	s := newTestStore(t)
	err := s.WithWriteTx(func(tx *Tx) error {
		return tx.SetRev("did:plc:alice", "3juj6k5v3ss2z")
	})
	if err != nil {
		t.Fatalf("WithWriteTx: %v", err)
	}

	rev, ok, err := s.ResolveRev("did:plc:alice")
	if err != nil {
		t.Fatalf("ResolveRev: %v", err)
	}
	if !ok || rev != "3juj6k5v3ss2z" {
		t.Fatalf("expected (3juj6k5v3ss2z, true), got (%q, %v)", rev, ok)
	}
}

func TestSetRevOverwritesPrevious(t *testing.T) {
	s := newTestStore(t)
	for _, rev := range []string{"3juj6k5v3ss20", "3juj6k5v3ss21", "3juj6k5v3ss22"} {
		err := s.WithWriteTx(func(tx *Tx) error {
			return tx.SetRev("did:plc:bob", rev)
		})
		if err != nil {
			t.Fatalf("WithWriteTx: %v", err)
		}
	}

	rev, ok, err := s.ResolveRev("did:plc:bob")
	if err != nil {
		t.Fatalf("ResolveRev: %v", err)
	}
	if !ok || rev != "3juj6k5v3ss22" {
		t.Fatalf("expected latest rev 3juj6k5v3ss22, got (%q, %v)", rev, ok)
	}
}

func TestRevsAreIndependentPerName(t *testing.T) {
	s := newTestStore(t)
	err := s.WithWriteTx(func(tx *Tx) error {
		if err := tx.SetRev("did:plc:alice", "3juj6k5v3ss2a"); err != nil {
			return err
		}
		return tx.SetRev("did:plc:bob", "3juj6k5v3ss2b")
	})
	if err != nil {
		t.Fatalf("WithWriteTx: %v", err)
	}

	aliceRev, _, err := s.ResolveRev("did:plc:alice")
	if err != nil {
		t.Fatalf("ResolveRev alice: %v", err)
	}
	bobRev, _, err := s.ResolveRev("did:plc:bob")
	if err != nil {
		t.Fatalf("ResolveRev bob: %v", err)
	}
	if aliceRev != "3juj6k5v3ss2a" || bobRev != "3juj6k5v3ss2b" {
		t.Fatalf("cross-contaminated revs: alice=%q bob=%q", aliceRev, bobRev)
	}
}

func TestAliasAndRevAreSeparateNamespaces(t *testing.T) {
	s := newTestStore(t)
	c := testCID(t, []byte("commit"))

	err := s.WithWriteTx(func(tx *Tx) error {
		if err := tx.SetAlias("did:plc:carol", c); err != nil {
			return err
		}
		return tx.SetRev("did:plc:carol", "3juj6k5v3ss2c")
	})
	if err != nil {
		t.Fatalf("WithWriteTx: %v", err)
	}

	resolvedCID, ok, err := s.ResolveAlias("did:plc:carol")
	if err != nil {
		t.Fatalf("ResolveAlias: %v", err)
	}
	if !ok || !resolvedCID.Equals(c) {
		t.Fatalf("alias lookup mismatch: %v %v", resolvedCID, ok)
	}

	rev, ok, err := s.ResolveRev("did:plc:carol")
	if err != nil {
		t.Fatalf("ResolveRev: %v", err)
	}
	if !ok || rev != "3juj6k5v3ss2c" {
		t.Fatalf("rev lookup mismatch: %q %v", rev, ok)
	}
}
