package atproto

import (
	"math/rand"
	"sync"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// TIDGenerator produces sortable, monotonically increasing record keys.
// A single generator must be shared by every writer on a given server
// (not constructed fresh per call) so that the monotonicity guarantee in
// the spec ("successive TIDs from one generator compare strictly
// increasing as strings") actually holds across concurrent commits.
//
// Wraps indigo's syntax.TIDClock, which already implements the spec's
// exact bit layout (53-bit microsecond timestamp + 10-bit clock id,
// big-endian uint64) and custom base32 alphabet.
type TIDGenerator struct {
	mu    sync.Mutex
	clock syntax.TIDClock
}

// NewTIDGenerator creates a generator with a random clock identifier.
func NewTIDGenerator() *TIDGenerator {
	return &TIDGenerator{clock: syntax.NewTIDClock(uint(rand.Intn(1024)))}
}

// Next returns the next TID as a 13-character string.
func (g *TIDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clock.Next().String()
}
