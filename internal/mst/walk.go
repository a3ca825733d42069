package mst

import (
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"
)

// KV is one reconstructed key/value pair from an in-order tree walk.
type KV struct {
	Key   string
	Value cid.Cid
}

// Walk performs the in-order traversal spec.md §4.3 describes — left
// subtree, then each entry interleaved with its right subtree —
// reconstructing every full key by prepending the running previous
// key's leading p bytes to each entry's suffix. The result is the
// complete key→value map in ascending key order, which both ListRecords-
// style listing and single-key lookup are built on top of: the teacher's
// own repo.Manager.ListRecords walks the whole tree and filters rather
// than performing a targeted descent, and this package follows the same
// shape for Get, trading point-lookup descent for one well-tested path.
func Walk(store BlockAccess, root cid.Cid) ([]KV, error) {
	var out []KV
	if err := walkNode(store, root, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func walkNode(store BlockAccess, nodeCID cid.Cid, out *[]KV) error {
	raw, ok, err := store.GetBlock(nodeCID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mst: node %s not found", nodeCID)
	}
	node, err := DecodeNode(raw)
	if err != nil {
		return fmt.Errorf("mst: decode node %s: %w", nodeCID, err)
	}

	if node.Left != nil {
		if err := walkNode(store, *node.Left, out); err != nil {
			return err
		}
	}

	lastKey := ""
	for _, e := range node.Entries {
		if e.PrefixLen > len(lastKey) {
			return fmt.Errorf("mst: node %s: entry prefix length %d exceeds previous key length %d", nodeCID, e.PrefixLen, len(lastKey))
		}
		fullKey := lastKey[:e.PrefixLen] + string(e.KeySuffix)
		*out = append(*out, KV{Key: fullKey, Value: e.Value})
		lastKey = fullKey

		if e.Tree != nil {
			if err := walkNode(store, *e.Tree, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExtractMap returns the complete key→CID map reachable from root.
func ExtractMap(store BlockAccess, root cid.Cid) (map[string]cid.Cid, error) {
	kvs, err := Walk(store, root)
	if err != nil {
		return nil, err
	}
	out := make(map[string]cid.Cid, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out, nil
}

// Get looks up a single key, reporting whether it is present.
func Get(store BlockAccess, root cid.Cid, key string) (cid.Cid, bool, error) {
	kvs, err := Walk(store, root)
	if err != nil {
		return cid.Undef, false, err
	}
	i := sort.Search(len(kvs), func(i int) bool { return kvs[i].Key >= key })
	if i < len(kvs) && kvs[i].Key == key {
		return kvs[i].Value, true, nil
	}
	return cid.Undef, false, nil
}

// ListRange returns entries whose key has the given prefix, in
// ascending order, optionally starting strictly after cursor and capped
// at limit (0 means unbounded). Grounded on the teacher's
// repo.Manager.ListRecords, which walks the tree and applies the same
// prefix/cursor/limit filtering in memory.
func ListRange(store BlockAccess, root cid.Cid, prefix, cursor string, limit int) ([]KV, error) {
	kvs, err := Walk(store, root)
	if err != nil {
		return nil, err
	}
	var out []KV
	for _, kv := range kvs {
		if prefix != "" && !hasPrefix(kv.Key, prefix) {
			continue
		}
		if cursor != "" && kv.Key <= cursor {
			continue
		}
		out = append(out, kv)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
