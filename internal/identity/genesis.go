package identity

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bluesky-social/indigo/atproto/atcrypto"

	"github.com/primal-host/primal-pds/internal/codec"
)

// GenesisOp is the did:plc genesis operation spec.md §4.5 defines:
// { type: "create", signingKey, recoveryKey, handle, service, prev: null,
// sig }. This is the legacy "create"-style op the spec's test vectors
// are built against — smaller than the teacher's richer plc_operation
// shape (rotationKeys, verificationMethods, alsoKnownAs, services), which
// is the newer PLC-directory rotation scheme. The canonical-CBOR-encode-
// then-SHA-256-then-base32 derivation technique is kept from the
// teacher's account.GeneratePLCDID/CborEncodePLCOp.
type GenesisOp struct {
	Type        string
	SigningKey  string
	RecoveryKey string
	Handle      string
	Service     string
	Prev        *string
	Sig         *string
}

// marshalCBOR encodes the op as a 7-field canonical DAG-CBOR map: keys
// sorted by length then byte-lexicographic order, which for this op's
// field names works out to sig, prev, type, service, username,
// signingKey, recoveryKey. The wire key for the handle field is
// "username" (matching original_source/adenosine-pds/src/did.rs's
// CreateOp), not "handle". sig is a null field when unset.
func (op *GenesisOp) marshalCBOR() ([]byte, error) {
	w := codec.NewWriter()
	if err := w.WriteMapHeader(7); err != nil {
		return nil, err
	}
	fields := []struct {
		name string
		val  *string
	}{
		{"sig", op.Sig},
		{"prev", op.Prev},
		{"type", &op.Type},
		{"service", &op.Service},
		{"username", &op.Handle},
		{"signingKey", &op.SigningKey},
		{"recoveryKey", &op.RecoveryKey},
	}
	for _, f := range fields {
		if err := w.WriteTextString(f.name); err != nil {
			return nil, err
		}
		if f.val == nil {
			if err := w.WriteNil(); err != nil {
				return nil, err
			}
			continue
		}
		if err := w.WriteTextString(*f.val); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// NewGenesisOp builds the unsigned genesis operation for a new identity.
// prev is always nil for a genesis op by definition.
func NewGenesisOp(signingPub atcrypto.PublicKey, recoveryPub atcrypto.PublicKey, handle, serviceEndpoint string) *GenesisOp {
	return &GenesisOp{
		Type:        "create",
		SigningKey:  DIDKey(signingPub),
		RecoveryKey: DIDKey(recoveryPub),
		Handle:      handle,
		Service:     serviceEndpoint,
		Prev:        nil,
	}
}

// DerivePLCDID signs op with priv and derives the resulting did:plc
// identifier, per spec.md §4.5:
//  1. Encode the unsigned op (sig field omitted / null) canonically.
//  2. Sign those bytes with priv; that signature is the op's sig field.
//  3. Encode the now-signed document canonically.
//  4. SHA-256 that signed document.
//  5. Truncate to 15 bytes (equivalent to taking the base32 encoding's
//     first 24 characters, since 15 bytes encode to exactly 24 base32
//     characters with no padding).
//  6. Lowercase base32-encode, prefix with "did:plc:".
//
// Returns the derived DID, the final signed document bytes, and the
// base64url-nopad signature string (for optional PLC directory
// registration via RegisterDID).
func DerivePLCDID(op *GenesisOp, priv atcrypto.PrivateKeyExportable) (did string, signedDocBytes []byte, sig string, err error) {
	unsigned := &GenesisOp{
		Type: op.Type, SigningKey: op.SigningKey, RecoveryKey: op.RecoveryKey,
		Handle: op.Handle, Service: op.Service, Prev: op.Prev, Sig: nil,
	}
	unsignedBytes, err := unsigned.marshalCBOR()
	if err != nil {
		return "", nil, "", fmt.Errorf("identity: encode unsigned genesis op: %w", err)
	}

	sigBytes, err := Sign(priv, unsignedBytes)
	if err != nil {
		return "", nil, "", fmt.Errorf("identity: sign genesis op: %w", err)
	}
	sig = base64.RawURLEncoding.EncodeToString(sigBytes)

	signed := &GenesisOp{
		Type: op.Type, SigningKey: op.SigningKey, RecoveryKey: op.RecoveryKey,
		Handle: op.Handle, Service: op.Service, Prev: op.Prev, Sig: &sig,
	}
	signedDocBytes, err = signed.marshalCBOR()
	if err != nil {
		return "", nil, "", fmt.Errorf("identity: encode signed genesis op: %w", err)
	}

	hash := sha256.Sum256(signedDocBytes)
	truncated := hash[:15]
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(truncated)
	did = "did:plc:" + strings.ToLower(encoded)

	return did, signedDocBytes, sig, nil
}
