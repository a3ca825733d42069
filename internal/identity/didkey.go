package identity

import (
	"fmt"

	"github.com/bluesky-social/indigo/atproto/atcrypto"
)

// DIDKey returns the did:key: string for pub — multicodec-prefixed,
// compressed point form, base58btc with a 'z' prefix. atcrypto's
// PublicKey already implements this exact encoding; exposed here so
// callers outside internal/identity never import atcrypto directly.
func DIDKey(pub atcrypto.PublicKey) string {
	return pub.DIDKey()
}

// PublicKeyMultibase returns the publicKeyMultibase string DID documents
// use: same multicodec prefix, but uncompressed point form.
func PublicKeyMultibase(pub atcrypto.PublicKey) string {
	return pub.Multibase()
}

// ParseDIDKey parses a did:key: string back into a public key — the
// inverse of DIDKey. Spec testable property 6 requires that parsing and
// re-serializing every supported did:key string reproduces the input
// exactly; that round-trip is exercised by TestDIDKeyRoundTrip in
// identity_test.go.
func ParseDIDKey(didKey string) (atcrypto.PublicKey, error) {
	pub, err := atcrypto.ParsePublicDIDKey(didKey)
	if err != nil {
		return nil, fmt.Errorf("identity: parse did:key %q: %w", didKey, err)
	}
	return pub, nil
}
