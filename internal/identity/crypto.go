// Package identity implements keypair generation, did:key encoding, and
// did:plc genesis-operation derivation — spec.md §4.5. It also keeps the
// teacher's PLC-directory/relay HTTP announcement helpers (directory.go),
// adapted to this package's genesis operation shape.
package identity

import (
	"fmt"

	"github.com/bluesky-social/indigo/atproto/atcrypto"
)

// Curve identifies one of the two signing-key curves spec.md §4.5
// requires support for.
type Curve int

const (
	CurveP256 Curve = iota
	CurveSecp256k1
)

// GenerateKey creates a new private key on the given curve. Generalizes
// the teacher's repo.GenerateKey, which only ever generated secp256k1
// keys for PDS signing; the spec requires both curves be selectable.
func GenerateKey(curve Curve) (atcrypto.PrivateKeyExportable, error) {
	switch curve {
	case CurveP256:
		priv, err := atcrypto.GeneratePrivateKeyP256()
		if err != nil {
			return nil, fmt.Errorf("identity: generate p256 key: %w", err)
		}
		return priv, nil
	case CurveSecp256k1:
		priv, err := atcrypto.GeneratePrivateKeyK256()
		if err != nil {
			return nil, fmt.Errorf("identity: generate k256 key: %w", err)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("identity: unknown curve %d", curve)
	}
}

// ParsePrivateKey loads a private key from its multibase-encoded string,
// same as the teacher's repo.ParseKey.
func ParsePrivateKey(multibase string) (atcrypto.PrivateKeyExportable, error) {
	priv, err := atcrypto.ParsePrivateMultibase(multibase)
	if err != nil {
		return nil, fmt.Errorf("identity: parse private key: %w", err)
	}
	return priv, nil
}

// ExportPrivateKey returns priv's multibase encoding, the inverse of
// ParsePrivateKey. Used to persist a generated account signing key to
// the account index.
func ExportPrivateKey(priv atcrypto.PrivateKeyExportable) string {
	return priv.Multibase()
}

// Sign produces a signature over msg's hash using priv, returning the
// raw signature bytes (callers base64url-nopad encode as needed).
func Sign(priv atcrypto.PrivateKeyExportable, msg []byte) ([]byte, error) {
	sig, err := priv.HashAndSign(msg)
	if err != nil {
		return nil, fmt.Errorf("identity: sign: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature over msg's hash under pub.
func Verify(pub atcrypto.PublicKey, msg, sig []byte) error {
	if err := pub.HashAndVerify(msg, sig); err != nil {
		return fmt.Errorf("identity: verify: %w", err)
	}
	return nil
}
