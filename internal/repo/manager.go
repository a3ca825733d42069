// Package repo implements the commit pipeline: the fixed node schemas
// (nodes.go), per-DID write serialization (locks.go), and the Manager
// that ties internal/blockstore, internal/mst, and internal/identity
// together into the record CRUD / CAR import-export surface the RPC
// layer calls. Generalizes the teacher's repo.Manager (InitRepo,
// CreateRecord, GetRecord, PutRecord, DeleteRecord, ListRecords,
// DescribeRepo, GetRoot, ExportRepo), which drove indigo's mst.Tree
// against a Postgres-backed blockstore, onto the from-scratch
// internal/mst engine and the bbolt-backed internal/blockstore.
package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/bluesky-social/indigo/atproto/atcrypto"
	"github.com/ipfs/go-cid"

	"github.com/primal-host/primal-pds/internal/apperr"
	"github.com/primal-host/primal-pds/internal/atproto"
	"github.com/primal-host/primal-pds/internal/blockstore"
	"github.com/primal-host/primal-pds/internal/codec"
	"github.com/primal-host/primal-pds/internal/identity"
	"github.com/primal-host/primal-pds/internal/mst"
)

const (
	schemaVersion  = 1
	datastoreName  = "mst"
	aliasKeyPrefix = "repo/"
)

func aliasName(did string) string { return aliasKeyPrefix + did }

// Manager orchestrates every repository operation for the server: one
// Manager is shared across all DIDs, backed by one block store.
type Manager struct {
	store *blockstore.Store
	tids  *atproto.TIDGenerator
	locks *keyedMutex
}

// NewManager creates a Manager over an already-open block store. tids
// must be shared across every Manager and caller that mints record
// keys, since the monotonicity guarantee only holds for a single
// generator instance.
func NewManager(store *blockstore.Store, tids *atproto.TIDGenerator) *Manager {
	return &Manager{store: store, tids: tids, locks: newKeyedMutex()}
}

// Mutation is a single record edit applied within one commit. The three
// concrete kinds carry the strict create/update semantics spec.md's
// Open Question on update-vs-put resolves: Create demands the key is
// absent, Update demands it is present.
type Mutation interface{ isMutation() }

// CreateMutation inserts a new record; fails with apperr.Conflict if the
// path is already occupied.
type CreateMutation struct {
	Collection string
	RKey       string
	Record     map[string]any
}

func (CreateMutation) isMutation() {}

// UpdateMutation replaces an existing record; fails with apperr.NotFound
// if the path is absent.
type UpdateMutation struct {
	Collection string
	RKey       string
	Record     map[string]any
}

func (UpdateMutation) isMutation() {}

// DeleteMutation removes an existing record; fails with apperr.NotFound
// if the path is absent.
type DeleteMutation struct {
	Collection string
	RKey       string
}

func (DeleteMutation) isMutation() {}

// RepoOp describes one applied mutation, for firehose event construction.
type RepoOp struct {
	Action string // "create", "update", or "delete"
	Path   string
	CID    *cid.Cid // nil for delete
	Prev   *cid.Cid // nil for create
}

// CommitResult captures everything about a commit that callers (the RPC
// layer, the firehose) need.
type CommitResult struct {
	CommitCID string
	Prev      *cid.Cid
	Rev       string   // TID stamped on this commit, this repo's new revision marker
	PrevRev   string   // previous revision marker, "" for a repo's first commit
	PrevData  *cid.Cid // MST data root before this commit, for firehose "since" diffing
	Ops       []RepoOp
	DiffCAR   []byte // CAR v1 with only the blocks this commit introduced
}

// RecordEntry is one record returned from ListRecords.
type RecordEntry struct {
	URI   string
	CID   string
	Value map[string]any
}

// InitRepo creates an empty repository for did: an empty MST, a
// metadata node, a signed genesis commit with no prev. Idempotent —
// returns nil without error if a repository already exists for did.
func (m *Manager) InitRepo(ctx context.Context, did string, signingKey atcrypto.PrivateKeyExportable) error {
	release := m.locks.Lock(did)
	defer release()

	if _, ok, err := m.store.ResolveAlias(aliasName(did)); err != nil {
		return apperr.Internalf(err, "repo: init: resolve alias for %s", did)
	} else if ok {
		return nil
	}

	return m.store.WithWriteTx(func(tx *blockstore.Tx) error {
		tracking := blockstore.NewTracking(tx)

		dataRoot, err := mst.Build(tracking, map[string]cid.Cid{})
		if err != nil {
			return fmt.Errorf("repo: init: build empty mst: %w", err)
		}
		commitCID, err := m.writeCommit(tracking, did, signingKey, nil, dataRoot)
		if err != nil {
			return err
		}
		if err := tx.SetAlias(aliasName(did), commitCID); err != nil {
			return err
		}
		return tx.SetRev(aliasName(did), m.tids.Next())
	})
}

// writeCommit writes a metadata node (if needed), a root node pointing
// at dataRoot, signs the root CID's string form, writes the commit
// node, and returns its CID. Does not advance the alias — callers do
// that once they are done writing, inside the same transaction.
//
// Per the Open Question decision recorded in DESIGN.md, the signature
// covers root.String() rather than the root node's raw CBOR bytes; the
// tradeoff that introduces (a signature that doesn't commit to the
// commit's own canonical bytes) is the interoperability choice the spec
// directs.
func (m *Manager) writeCommit(store mst.BlockAccess, did string, signingKey atcrypto.PrivateKeyExportable, prevCommit *cid.Cid, dataRoot cid.Cid) (cid.Cid, error) {
	metaNode := &MetadataNode{Datastore: datastoreName, DID: did, Version: schemaVersion}
	metaRaw, err := metaNode.MarshalCBOR()
	if err != nil {
		return cid.Undef, fmt.Errorf("repo: encode metadata node: %w", err)
	}
	metaCID, err := store.PutBlock(codec.DagCBOR, metaRaw)
	if err != nil {
		return cid.Undef, fmt.Errorf("repo: write metadata node: %w", err)
	}

	rootNode := &RootNode{AuthToken: nil, Prev: prevCommit, Meta: metaCID, Data: dataRoot}
	rootRaw, err := rootNode.MarshalCBOR()
	if err != nil {
		return cid.Undef, fmt.Errorf("repo: encode root node: %w", err)
	}
	rootCID, err := store.PutBlock(codec.DagCBOR, rootRaw)
	if err != nil {
		return cid.Undef, fmt.Errorf("repo: write root node: %w", err)
	}

	sig, err := identity.Sign(signingKey, []byte(rootCID.String()))
	if err != nil {
		return cid.Undef, fmt.Errorf("repo: sign commit: %w", err)
	}

	// Crash-only self-check, per spec.md §7: a commit that was just
	// signed must itself verify, or the process aborts rather than
	// advancing an alias to a commit no reader could trust.
	pub, err := signingKey.PublicKey()
	if err != nil {
		log.Fatalf("repo: commit self-check: derive public key: %v", err)
	}
	if err := identity.Verify(pub, []byte(rootCID.String()), sig); err != nil {
		log.Fatalf("repo: commit self-check failed for %s: freshly signed root does not verify: %v", did, err)
	}

	commitNode := &CommitNode{Root: rootCID, Sig: sig}
	commitRaw, err := commitNode.MarshalCBOR()
	if err != nil {
		return cid.Undef, fmt.Errorf("repo: encode commit node: %w", err)
	}
	commitCID, err := store.PutBlock(codec.DagCBOR, commitRaw)
	if err != nil {
		return cid.Undef, fmt.Errorf("repo: write commit node: %w", err)
	}
	return commitCID, nil
}

// openCurrent resolves did's alias, loads its commit and root node, and
// returns the previous commit CID plus the current MST data root.
// Returns apperr.NotFound if did has no repository yet.
func (m *Manager) openCurrent(store mst.BlockAccess, did string, resolve func(name string) (cid.Cid, bool, error)) (prevCommit cid.Cid, dataRoot cid.Cid, err error) {
	commitCID, ok, err := resolve(aliasName(did))
	if err != nil {
		return cid.Undef, cid.Undef, apperr.Internalf(err, "repo: resolve alias for %s", did)
	}
	if !ok {
		return cid.Undef, cid.Undef, apperr.NotFoundf("no repository for %s", did)
	}

	commitRaw, ok, err := store.GetBlock(commitCID)
	if err != nil {
		return cid.Undef, cid.Undef, apperr.Internalf(err, "repo: read commit %s", commitCID)
	}
	if !ok {
		return cid.Undef, cid.Undef, apperr.Internalf(nil, "repo: commit block %s missing", commitCID)
	}
	commit, err := DecodeCommitNode(commitRaw)
	if err != nil {
		return cid.Undef, cid.Undef, apperr.Internalf(err, "repo: decode commit %s", commitCID)
	}

	rootRaw, ok, err := store.GetBlock(commit.Root)
	if err != nil {
		return cid.Undef, cid.Undef, apperr.Internalf(err, "repo: read root %s", commit.Root)
	}
	if !ok {
		return cid.Undef, cid.Undef, apperr.Internalf(nil, "repo: root block %s missing", commit.Root)
	}
	root, err := DecodeRootNode(rootRaw)
	if err != nil {
		return cid.Undef, cid.Undef, apperr.Internalf(err, "repo: decode root %s", commit.Root)
	}

	return commitCID, root.Data, nil
}

// commit runs one write transaction: it loads the current MST entries
// for did, hands them to mutate for in-place editing, rebuilds the
// tree, writes a new commit pointing at the previous one, and advances
// did's alias — all inside one bbolt write transaction, so the block
// writes and the alias advance are atomic (invariant 3, testable
// property 4).
func (m *Manager) commit(ctx context.Context, did string, signingKey atcrypto.PrivateKeyExportable, mutate func(entries map[string]cid.Cid, tracking *blockstore.Tracking) ([]RepoOp, error)) (*CommitResult, error) {
	release := m.locks.Lock(did)
	defer release()

	var result CommitResult
	err := m.store.WithWriteTx(func(tx *blockstore.Tx) error {
		tracking := blockstore.NewTracking(tx)

		prevCommit, dataRoot, err := m.openCurrent(tracking, did, tx.ResolveAlias)
		if err != nil {
			return err
		}
		prevDataRoot := dataRoot
		prevRev, _, err := tx.ResolveRev(aliasName(did))
		if err != nil {
			return apperr.Internalf(err, "repo: resolve rev for %s", did)
		}

		entries, err := mst.ExtractMap(tracking, dataRoot)
		if err != nil {
			return apperr.Internalf(err, "repo: extract mst for %s", did)
		}

		ops, err := mutate(entries, tracking)
		if err != nil {
			return err
		}

		newDataRoot, err := mst.Build(tracking, entries)
		if err != nil {
			return fmt.Errorf("repo: rebuild mst for %s: %w", did, err)
		}

		commitCID, err := m.writeCommit(tracking, did, signingKey, &prevCommit, newDataRoot)
		if err != nil {
			return err
		}
		if err := tx.SetAlias(aliasName(did), commitCID); err != nil {
			return err
		}
		rev := m.tids.Next()
		if err := tx.SetRev(aliasName(did), rev); err != nil {
			return err
		}

		var diffBuf bytes.Buffer
		if err := tracking.ExportDiffCAR(&diffBuf, commitCID); err != nil {
			return fmt.Errorf("repo: export diff car for %s: %w", did, err)
		}

		result = CommitResult{
			CommitCID: commitCID.String(),
			Prev:      &prevCommit,
			Rev:       rev,
			PrevRev:   prevRev,
			PrevData:  &prevDataRoot,
			Ops:       ops,
			DiffCAR:   diffBuf.Bytes(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// encodeRecord normalizes a JSON-decoded record through the atproto data
// model and returns its canonical DAG-CBOR bytes, matching the
// teacher's PutRecord (json.Marshal then atdata.UnmarshalJSON) so CID
// references and byte-string fields embedded in records round-trip
// correctly.
func encodeRecord(record map[string]any) ([]byte, error) {
	rawJSON, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("repo: marshal record json: %w", err)
	}
	parsed, err := codec.ParseJSONRecord(rawJSON)
	if err != nil {
		return nil, fmt.Errorf("repo: parse record: %w", err)
	}
	cborBytes, err := codec.EncodeRecord(parsed)
	if err != nil {
		return nil, fmt.Errorf("repo: encode record: %w", err)
	}
	return cborBytes, nil
}

// ApplyMutations applies a batch of strict Create/Update/Delete
// mutations as a single commit, grounded on the spec's applyWrites
// surface: every mutation either fully applies or the whole commit is
// rejected. Record blocks are written as each mutation is applied, but
// inside commit's single write transaction, so a failing precondition
// rolls back every block the batch had already written.
func (m *Manager) ApplyMutations(ctx context.Context, did string, signingKey atcrypto.PrivateKeyExportable, muts []Mutation) (*CommitResult, error) {
	return m.commit(ctx, did, signingKey, func(entries map[string]cid.Cid, tracking *blockstore.Tracking) ([]RepoOp, error) {
		ops := make([]RepoOp, 0, len(muts))
		for _, raw := range muts {
			switch mu := raw.(type) {
			case CreateMutation:
				path := atproto.RecordPath(mu.Collection, mu.RKey)
				if _, exists := entries[path]; exists {
					return nil, apperr.Conflictf("record already exists: %s", path)
				}
				cborBytes, err := encodeRecord(mu.Record)
				if err != nil {
					return nil, err
				}
				recordCID, err := tracking.PutBlock(codec.DagCBOR, cborBytes)
				if err != nil {
					return nil, apperr.Internalf(err, "repo: write record %s", path)
				}
				entries[path] = recordCID
				ops = append(ops, RepoOp{Action: "create", Path: path, CID: &recordCID})

			case UpdateMutation:
				path := atproto.RecordPath(mu.Collection, mu.RKey)
				prev, exists := entries[path]
				if !exists {
					return nil, apperr.NotFoundf("record not found: %s", path)
				}
				cborBytes, err := encodeRecord(mu.Record)
				if err != nil {
					return nil, err
				}
				recordCID, err := tracking.PutBlock(codec.DagCBOR, cborBytes)
				if err != nil {
					return nil, apperr.Internalf(err, "repo: write record %s", path)
				}
				entries[path] = recordCID
				ops = append(ops, RepoOp{Action: "update", Path: path, CID: &recordCID, Prev: &prev})

			case DeleteMutation:
				path := atproto.RecordPath(mu.Collection, mu.RKey)
				prev, exists := entries[path]
				if !exists {
					return nil, apperr.NotFoundf("record not found: %s", path)
				}
				delete(entries, path)
				ops = append(ops, RepoOp{Action: "delete", Path: path, Prev: &prev})

			default:
				return nil, apperr.Internalf(nil, "repo: unknown mutation type %T", raw)
			}
		}
		return ops, nil
	})
}

// CreateRecord mints a fresh TID rkey and creates a record under it.
func (m *Manager) CreateRecord(ctx context.Context, did string, signingKey atcrypto.PrivateKeyExportable, collection string, record map[string]any) (uri string, result *CommitResult, err error) {
	rkey := m.tids.Next()
	result, err = m.ApplyMutations(ctx, did, signingKey, []Mutation{
		CreateMutation{Collection: collection, RKey: rkey, Record: record},
	})
	if err != nil {
		return "", nil, err
	}
	return atproto.NewRecordURI(did, collection, rkey), result, nil
}

// DeleteRecord removes a record. Returns apperr.NotFound if absent.
func (m *Manager) DeleteRecord(ctx context.Context, did string, signingKey atcrypto.PrivateKeyExportable, collection, rkey string) (*CommitResult, error) {
	return m.ApplyMutations(ctx, did, signingKey, []Mutation{
		DeleteMutation{Collection: collection, RKey: rkey},
	})
}

// PutRecord creates or replaces a record at a caller-chosen rkey,
// matching com.atproto.repo.putRecord's create-or-update contract. This
// is deliberately not routed through ApplyMutations's strict Create/
// Update mutations: putRecord's whole point is that the caller does not
// know in advance whether the path exists, so the action (and the
// apperr.Conflict/NotFound split) is resolved here from the state
// observed inside the same transaction the write lands in.
func (m *Manager) PutRecord(ctx context.Context, did string, signingKey atcrypto.PrivateKeyExportable, collection, rkey string, record map[string]any) (uri string, result *CommitResult, err error) {
	path := atproto.RecordPath(collection, rkey)
	result, err = m.commit(ctx, did, signingKey, func(entries map[string]cid.Cid, tracking *blockstore.Tracking) ([]RepoOp, error) {
		cborBytes, err := encodeRecord(record)
		if err != nil {
			return nil, err
		}
		recordCID, err := tracking.PutBlock(codec.DagCBOR, cborBytes)
		if err != nil {
			return nil, apperr.Internalf(err, "repo: write record %s", path)
		}

		prev, existed := entries[path]
		entries[path] = recordCID

		action := "create"
		op := RepoOp{Action: action, Path: path, CID: &recordCID}
		if existed {
			op.Action = "update"
			op.Prev = &prev
		}
		return []RepoOp{op}, nil
	})
	if err != nil {
		return "", nil, err
	}
	return atproto.NewRecordURI(did, collection, rkey), result, nil
}

// GetRecord reads a single record by collection + rkey.
func (m *Manager) GetRecord(ctx context.Context, did, collection, rkey string) (cidStr string, record map[string]any, err error) {
	path := atproto.RecordPath(collection, rkey)

	_, dataRoot, err := m.openCurrent(m.store, did, m.store.ResolveAlias)
	if err != nil {
		return "", nil, err
	}
	recordCID, ok, err := mst.Get(m.store, dataRoot, path)
	if err != nil {
		return "", nil, apperr.Internalf(err, "repo: lookup %s", path)
	}
	if !ok {
		return "", nil, apperr.NotFoundf("record not found: %s", path)
	}

	raw, ok, err := m.store.GetBlock(recordCID)
	if err != nil {
		return "", nil, apperr.Internalf(err, "repo: read record %s", path)
	}
	if !ok {
		return "", nil, apperr.Internalf(nil, "repo: record block %s missing", recordCID)
	}
	rec, err := codec.DecodeRecord(raw)
	if err != nil {
		return "", nil, apperr.Internalf(err, "repo: decode record %s", path)
	}
	return recordCID.String(), rec, nil
}

// ListRecords lists records in collection, ascending by rkey, with
// prefix/cursor/limit pagination matching the teacher's ListRecords
// contract (limit 0 or >100 clamps to 50, cursor is the rkey of the
// last item already returned, reverse flips iteration order before
// cursoring and limiting).
func (m *Manager) ListRecords(ctx context.Context, did, collection string, limit int, cursor string, reverse bool) ([]RecordEntry, string, error) {
	_, dataRoot, err := m.openCurrent(m.store, did, m.store.ResolveAlias)
	if err != nil {
		return nil, "", err
	}

	prefix := collection + "/"
	kvs, err := mst.ListRange(m.store, dataRoot, prefix, "", 0)
	if err != nil {
		return nil, "", apperr.Internalf(err, "repo: list %s", collection)
	}

	if reverse {
		for i, j := 0, len(kvs)-1; i < j; i, j = i+1, j-1 {
			kvs[i], kvs[j] = kvs[j], kvs[i]
		}
	}

	startIdx := 0
	if cursor != "" {
		cursorPath := prefix + cursor
		for i, kv := range kvs {
			if kv.Key == cursorPath {
				startIdx = i + 1
				break
			}
		}
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var records []RecordEntry
	var nextCursor string
	for i := startIdx; i < len(kvs) && len(records) < limit; i++ {
		kv := kvs[i]
		rkey := strings.TrimPrefix(kv.Key, prefix)

		raw, ok, err := m.store.GetBlock(kv.Value)
		if err != nil {
			return nil, "", apperr.Internalf(err, "repo: read record %s", kv.Key)
		}
		if !ok {
			return nil, "", apperr.Internalf(nil, "repo: record block %s missing", kv.Value)
		}
		rec, err := codec.DecodeRecord(raw)
		if err != nil {
			return nil, "", apperr.Internalf(err, "repo: decode record %s", kv.Key)
		}

		records = append(records, RecordEntry{
			URI:   "at://" + did + "/" + kv.Key,
			CID:   kv.Value.String(),
			Value: rec,
		})
		if len(records) == limit && i+1 < len(kvs) {
			nextCursor = rkey
		}
	}
	return records, nextCursor, nil
}

// DescribeRepo returns the distinct collection NSIDs present in did's repo.
func (m *Manager) DescribeRepo(ctx context.Context, did string) ([]string, error) {
	_, dataRoot, err := m.openCurrent(m.store, did, m.store.ResolveAlias)
	if err != nil {
		return nil, err
	}
	kvs, err := mst.Walk(m.store, dataRoot)
	if err != nil {
		return nil, apperr.Internalf(err, "repo: describe %s", did)
	}

	seen := map[string]bool{}
	var collections []string
	for _, kv := range kvs {
		collection, _, ok := atproto.SplitRecordPath(kv.Key)
		if !ok || seen[collection] {
			continue
		}
		seen[collection] = true
		collections = append(collections, collection)
	}
	sort.Strings(collections)
	return collections, nil
}

// GetRoot returns the current commit CID and revision marker for did.
func (m *Manager) GetRoot(ctx context.Context, did string) (commitCID string, rev string, err error) {
	commit, _, err := m.openCurrent(m.store, did, m.store.ResolveAlias)
	if err != nil {
		return "", "", err
	}
	rev, _, err = m.store.ResolveRev(aliasName(did))
	if err != nil {
		return "", "", apperr.Internalf(err, "repo: resolve rev for %s", did)
	}
	return commit.String(), rev, nil
}

// ExportCAR writes did's full repository as a CAR v1 archive to w.
func (m *Manager) ExportCAR(ctx context.Context, did string, w io.Writer) error {
	commitCID, _, err := m.openCurrent(m.store, did, m.store.ResolveAlias)
	if err != nil {
		return err
	}
	if err := m.store.ExportCAR(w, commitCID); err != nil {
		return apperr.Internalf(err, "repo: export %s", did)
	}
	return nil
}

// ImportCAR streams a CAR v1 body into did's block store, verifies the
// declared root's MST is self-consistent, and only then advances did's
// alias to it — all inside one write transaction, so a verification
// failure leaves the existing repository (if any) completely untouched.
// Grounded on original_source/adenosine-pds/src/car.rs's
// load_car_to_blockstore + db.alias(...) sequence.
func (m *Manager) ImportCAR(ctx context.Context, did string, r io.Reader) error {
	release := m.locks.Lock(did)
	defer release()

	return m.store.WithWriteTx(func(tx *blockstore.Tx) error {
		roots, err := codec.ReadCAR(r, func(c cid.Cid, data []byte) error {
			return tx.PutBlockWithCID(c, data)
		})
		if err != nil {
			return apperr.BadInputf("repo: import %s: malformed car: %v", did, err)
		}
		if len(roots) == 0 {
			return apperr.BadInputf("repo: import %s: car declares no root", did)
		}
		commitCID := roots[0]

		commitRaw, ok, err := tx.GetBlock(commitCID)
		if err != nil {
			return apperr.Internalf(err, "repo: import %s: read commit", did)
		}
		if !ok {
			return apperr.BadInputf("repo: import %s: declared root %s not present in car", did, commitCID)
		}
		commit, err := DecodeCommitNode(commitRaw)
		if err != nil {
			return apperr.BadInputf("repo: import %s: decode commit %s: %v", did, commitCID, err)
		}

		rootRaw, ok, err := tx.GetBlock(commit.Root)
		if err != nil {
			return apperr.Internalf(err, "repo: import %s: read root", did)
		}
		if !ok {
			return apperr.BadInputf("repo: import %s: root node %s not present in car", did, commit.Root)
		}
		root, err := DecodeRootNode(rootRaw)
		if err != nil {
			return apperr.BadInputf("repo: import %s: decode root %s: %v", did, commit.Root, err)
		}

		if err := mst.Verify(tx, root.Data); err != nil {
			return apperr.BadInputf("repo: import %s: mst verification failed: %v", did, err)
		}

		return tx.SetAlias(aliasName(did), commitCID)
	})
}
