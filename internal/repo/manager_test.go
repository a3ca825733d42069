package repo

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/primal-host/primal-pds/internal/atproto"
	"github.com/primal-host/primal-pds/internal/blockstore"
	"github.com/primal-host/primal-pds/internal/identity"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := blockstore.Open(filepath.Join(t.TempDir(), "repo.db"))
	if err != nil {
		t.Fatalf("blockstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewManager(store, atproto.NewTIDGenerator())
}

func TestManagerInitIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	priv, err := identity.GenerateKey(identity.CurveSecp256k1)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	if err := m.InitRepo(ctx, "did:plc:alice", priv); err != nil {
		t.Fatalf("InitRepo: %v", err)
	}
	first, _, err := m.GetRoot(ctx, "did:plc:alice")
	if err != nil {
		t.Fatalf("GetRoot: %v", err)
	}
	if err := m.InitRepo(ctx, "did:plc:alice", priv); err != nil {
		t.Fatalf("InitRepo second call: %v", err)
	}
	second, _, err := m.GetRoot(ctx, "did:plc:alice")
	if err != nil {
		t.Fatalf("GetRoot after second init: %v", err)
	}
	if first != second {
		t.Fatalf("InitRepo was not idempotent: %s != %s", first, second)
	}
}

func TestManagerCreateGetListDelete(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	did := "did:plc:bob"
	priv, err := identity.GenerateKey(identity.CurveP256)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := m.InitRepo(ctx, did, priv); err != nil {
		t.Fatalf("InitRepo: %v", err)
	}

	rec := map[string]any{"text": "hello world", "$type": "app.bsky.feed.post"}
	uri, result, err := m.CreateRecord(ctx, did, priv, "app.bsky.feed.post", rec)
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if uri == "" || result.CommitCID == "" {
		t.Fatalf("CreateRecord returned empty uri/commit")
	}

	parsed, err := atproto.ParseATURI(uri)
	if err != nil {
		t.Fatalf("ParseATURI: %v", err)
	}

	_, got, err := m.GetRecord(ctx, did, parsed.Collection, parsed.RKey)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got["text"] != "hello world" {
		t.Fatalf("GetRecord returned wrong value: %#v", got)
	}

	entries, _, err := m.ListRecords(ctx, did, "app.bsky.feed.post", 0, "", false)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(entries) != 1 || entries[0].URI != uri {
		t.Fatalf("ListRecords mismatch: %#v", entries)
	}

	collections, err := m.DescribeRepo(ctx, did)
	if err != nil {
		t.Fatalf("DescribeRepo: %v", err)
	}
	if len(collections) != 1 || collections[0] != "app.bsky.feed.post" {
		t.Fatalf("DescribeRepo mismatch: %#v", collections)
	}

	if _, err := m.DeleteRecord(ctx, did, priv, parsed.Collection, parsed.RKey); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if _, _, err := m.GetRecord(ctx, did, parsed.Collection, parsed.RKey); err == nil {
		t.Fatalf("GetRecord succeeded after delete")
	}
}

func TestManagerStrictCreateConflict(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	did := "did:plc:carol"
	priv, _ := identity.GenerateKey(identity.CurveSecp256k1)
	if err := m.InitRepo(ctx, did, priv); err != nil {
		t.Fatalf("InitRepo: %v", err)
	}

	muts := []Mutation{CreateMutation{Collection: "app.bsky.feed.post", RKey: "3abcxyz", Record: map[string]any{"text": "one"}}}
	if _, err := m.ApplyMutations(ctx, did, priv, muts); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := m.ApplyMutations(ctx, did, priv, muts); err == nil {
		t.Fatalf("second create at same rkey should have conflicted")
	}
}

func TestManagerStrictUpdateNotFound(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	did := "did:plc:dave"
	priv, _ := identity.GenerateKey(identity.CurveSecp256k1)
	if err := m.InitRepo(ctx, did, priv); err != nil {
		t.Fatalf("InitRepo: %v", err)
	}

	muts := []Mutation{UpdateMutation{Collection: "app.bsky.feed.post", RKey: "3abcxyz", Record: map[string]any{"text": "one"}}}
	if _, err := m.ApplyMutations(ctx, did, priv, muts); err == nil {
		t.Fatalf("update of absent record should have failed")
	}
}

func TestManagerPutRecordCreatesThenUpdates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	did := "did:plc:erin"
	priv, _ := identity.GenerateKey(identity.CurveSecp256k1)
	if err := m.InitRepo(ctx, did, priv); err != nil {
		t.Fatalf("InitRepo: %v", err)
	}

	uri, result, err := m.PutRecord(ctx, did, priv, "app.bsky.actor.profile", "self", map[string]any{"displayName": "Erin"})
	if err != nil {
		t.Fatalf("PutRecord create: %v", err)
	}
	if result.Ops[0].Action != "create" {
		t.Fatalf("expected create action, got %s", result.Ops[0].Action)
	}

	_, result2, err := m.PutRecord(ctx, did, priv, "app.bsky.actor.profile", "self", map[string]any{"displayName": "Erin 2"})
	if err != nil {
		t.Fatalf("PutRecord update: %v", err)
	}
	if result2.Ops[0].Action != "update" {
		t.Fatalf("expected update action, got %s", result2.Ops[0].Action)
	}

	parsed, _ := atproto.ParseATURI(uri)
	_, got, err := m.GetRecord(ctx, did, parsed.Collection, parsed.RKey)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got["displayName"] != "Erin 2" {
		t.Fatalf("expected updated value, got %#v", got)
	}
}

func TestManagerCommitAdvancesRev(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	did := "did:plc:grace"
	priv, _ := identity.GenerateKey(identity.CurveSecp256k1)
	if err := m.InitRepo(ctx, did, priv); err != nil {
		t.Fatalf("InitRepo: %v", err)
	}

	_, rev0, err := m.GetRoot(ctx, did)
	if err != nil {
		t.Fatalf("GetRoot: %v", err)
	}
	if rev0 == "" {
		t.Fatalf("expected InitRepo to stamp an initial rev")
	}

	_, result, err := m.CreateRecord(ctx, did, priv, "app.bsky.feed.post", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if result.PrevRev != rev0 {
		t.Fatalf("expected PrevRev %q, got %q", rev0, result.PrevRev)
	}
	if result.Rev == "" || result.Rev == result.PrevRev {
		t.Fatalf("expected a fresh Rev distinct from PrevRev, got %q", result.Rev)
	}

	_, rev1, err := m.GetRoot(ctx, did)
	if err != nil {
		t.Fatalf("GetRoot after commit: %v", err)
	}
	if rev1 != result.Rev {
		t.Fatalf("GetRoot rev %q does not match commit's Rev %q", rev1, result.Rev)
	}
}

func TestManagerExportImportRoundTrip(t *testing.T) {
	src := newTestManager(t)
	ctx := context.Background()
	did := "did:plc:frank"
	priv, _ := identity.GenerateKey(identity.CurveSecp256k1)
	if err := src.InitRepo(ctx, did, priv); err != nil {
		t.Fatalf("InitRepo: %v", err)
	}
	if _, _, err := src.CreateRecord(ctx, did, priv, "app.bsky.feed.post", map[string]any{"text": "hi"}); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	var buf bytes.Buffer
	if err := src.ExportCAR(ctx, did, &buf); err != nil {
		t.Fatalf("ExportCAR: %v", err)
	}

	dst := newTestManager(t)
	if err := dst.ImportCAR(ctx, did, bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("ImportCAR: %v", err)
	}

	srcRoot, _, err := src.GetRoot(ctx, did)
	if err != nil {
		t.Fatalf("GetRoot src: %v", err)
	}
	dstRoot, _, err := dst.GetRoot(ctx, did)
	if err != nil {
		t.Fatalf("GetRoot dst: %v", err)
	}
	if srcRoot != dstRoot {
		t.Fatalf("imported root %s does not match exported root %s", dstRoot, srcRoot)
	}

	collections, err := dst.DescribeRepo(ctx, did)
	if err != nil {
		t.Fatalf("DescribeRepo: %v", err)
	}
	if len(collections) != 1 {
		t.Fatalf("expected 1 collection after import, got %#v", collections)
	}
}
