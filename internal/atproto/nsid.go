package atproto

import (
	"fmt"
	"regexp"
	"strings"
)

var nsidPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+(\.[a-zA-Z0-9-]+)*\.[a-zA-Z][a-zA-Z0-9-]*$`)

// ValidNSID reports whether s is a syntactically valid namespaced
// identifier, e.g. "app.bsky.feed.post".
func ValidNSID(s string) bool {
	if len(s) == 0 || len(s) > 317 {
		return false
	}
	return nsidPattern.MatchString(s)
}

// ParseNSID validates s and returns it unchanged.
func ParseNSID(s string) (string, error) {
	if !ValidNSID(s) {
		return "", fmt.Errorf("atproto: invalid nsid: %q", s)
	}
	return s, nil
}

// RecordPath joins a collection NSID and a record key into the MST path
// convention used throughout the repo engine: "<nsid>/<tid>".
func RecordPath(collection, rkey string) string {
	return collection + "/" + rkey
}

// SplitRecordPath reverses RecordPath, returning the collection and rkey.
func SplitRecordPath(path string) (collection, rkey string, ok bool) {
	idx := strings.IndexByte(path, '/')
	if idx <= 0 || idx == len(path)-1 {
		return "", "", false
	}
	return path[:idx], path[idx+1:], true
}
