// Package atproto provides identifier parsing and generation shared by
// the repo engine and the RPC layer: DIDs, NSIDs, AT-URIs, and TIDs.
package atproto

import (
	"fmt"
	"regexp"
)

var didPattern = regexp.MustCompile(`^did:[a-z]{1,32}:[A-Za-z0-9.\-]{1,256}$`)

// ValidDID reports whether s is a syntactically valid DID. Only the
// "plc" and "web" methods are meaningful to this server; other methods
// are still syntactically accepted (the core does not resolve DIDs over
// the network).
func ValidDID(s string) bool {
	return didPattern.MatchString(s)
}

// ParseDID validates s and returns it unchanged, or an error describing
// the syntax violation.
func ParseDID(s string) (string, error) {
	if !ValidDID(s) {
		return "", fmt.Errorf("atproto: invalid did: %q", s)
	}
	return s, nil
}
