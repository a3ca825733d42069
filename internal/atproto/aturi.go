package atproto

import (
	"fmt"
	"strings"
)

// ATURI is a parsed "at://" URI: at://<did-or-host>[/<nsid>[/<tid>]][#<fragment>].
type ATURI struct {
	Authority  string // DID or hostname
	Collection string // NSID, empty if not present
	RKey       string // record key, empty if not present
	Fragment   string // fragment, empty if not present
}

// String renders the URI back to its canonical form.
func (u ATURI) String() string {
	var b strings.Builder
	b.WriteString("at://")
	b.WriteString(u.Authority)
	if u.Collection != "" {
		b.WriteByte('/')
		b.WriteString(u.Collection)
		if u.RKey != "" {
			b.WriteByte('/')
			b.WriteString(u.RKey)
		}
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// ParseATURI parses an "at://" URI into its components.
func ParseATURI(s string) (ATURI, error) {
	const scheme = "at://"
	if !strings.HasPrefix(s, scheme) {
		return ATURI{}, fmt.Errorf("atproto: not an at-uri: %q", s)
	}
	rest := s[len(scheme):]

	var fragment string
	if idx := strings.IndexByte(rest, '#'); idx >= 0 {
		fragment = rest[idx+1:]
		rest = rest[:idx]
	}

	parts := strings.SplitN(rest, "/", 3)
	u := ATURI{Authority: parts[0], Fragment: fragment}
	if u.Authority == "" {
		return ATURI{}, fmt.Errorf("atproto: at-uri missing authority: %q", s)
	}
	if len(parts) > 1 {
		u.Collection = parts[1]
	}
	if len(parts) > 2 {
		u.RKey = parts[2]
	}
	return u, nil
}

// NewRecordURI builds the canonical at:// URI for a single record.
func NewRecordURI(did, collection, rkey string) string {
	return ATURI{Authority: did, Collection: collection, RKey: rkey}.String()
}
