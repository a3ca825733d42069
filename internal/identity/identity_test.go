package identity

import (
	"crypto/sha256"
	"encoding/base32"
	"strings"
	"testing"
)

func TestDIDKeyRoundTrip(t *testing.T) {
	for _, curve := range []Curve{CurveP256, CurveSecp256k1} {
		priv, err := GenerateKey(curve)
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		pub, err := priv.PublicKey()
		if err != nil {
			t.Fatalf("PublicKey: %v", err)
		}
		didKey := DIDKey(pub)
		if !strings.HasPrefix(didKey, "did:key:z") {
			t.Fatalf("unexpected did:key prefix: %s", didKey)
		}

		reparsed, err := ParseDIDKey(didKey)
		if err != nil {
			t.Fatalf("ParseDIDKey: %v", err)
		}
		if got := DIDKey(reparsed); got != didKey {
			t.Fatalf("did:key round trip mismatch: got %s, want %s", got, didKey)
		}
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := GenerateKey(CurveSecp256k1)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pub, err := priv.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}

	msg := []byte("hello repository")
	sig, err := Sign(priv, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(pub, msg, sig); err != nil {
		t.Fatalf("Verify valid signature: %v", err)
	}

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xff
	if err := Verify(pub, tampered, sig); err == nil {
		t.Fatalf("Verify accepted a signature over tampered bytes")
	}
}

func TestDerivePLCDID(t *testing.T) {
	signingPriv, err := GenerateKey(CurveSecp256k1)
	if err != nil {
		t.Fatalf("GenerateKey signing: %v", err)
	}
	signingPub, err := signingPriv.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	recoveryPriv, err := GenerateKey(CurveSecp256k1)
	if err != nil {
		t.Fatalf("GenerateKey recovery: %v", err)
	}
	recoveryPub, err := recoveryPriv.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}

	op := NewGenesisOp(signingPub, recoveryPub, "alice.example.com", "https://pds.example.com")
	did1, doc1, _, err := DerivePLCDID(op, signingPriv)
	if err != nil {
		t.Fatalf("DerivePLCDID: %v", err)
	}
	if !strings.HasPrefix(did1, "did:plc:") {
		t.Fatalf("derived DID missing did:plc: prefix: %s", did1)
	}
	if len(did1) != len("did:plc:")+24 {
		t.Fatalf("derived DID has wrong length: %s (%d chars after prefix)", did1, len(did1)-len("did:plc:"))
	}

	did2, doc2, _, err := DerivePLCDID(op, signingPriv)
	if err != nil {
		t.Fatalf("DerivePLCDID second call: %v", err)
	}
	if did1 != did2 {
		t.Fatalf("derivation not deterministic for identical input: %s != %s", did1, did2)
	}
	if string(doc1) != string(doc2) {
		t.Fatalf("signed document bytes differ across identical derivations")
	}
}

// TestSpecVectorGenesisOp reproduces spec.md §8's did:plc genesis-op test
// vector (shared with original_source/adenosine-pds/src/did.rs's
// test_did_plc_examples), confirming marshalCBOR's field name and order
// actually interoperate rather than merely being internally consistent.
// The vector supplies a pre-computed signature rather than a private key,
// so this derives the DID directly from the already-signed op instead of
// going through DerivePLCDID (which only ever signs with a key it holds).
func TestSpecVectorGenesisOp(t *testing.T) {
	const wantDID = "did:plc:7iza6de2dwap2sbkpav7c6c6"
	sig := "vi6JAl5W4FfyViD5_BKL9p0rbI3MxTWuh0g_egTFAjtf7gwoSfSe1O3qMOEUPX6QH3H0Q9M4y7gOLGblWkEwfQ"

	op := &GenesisOp{
		Type:        "create",
		SigningKey:  "did:key:zDnaejYFhgFiVF89LhJ4UipACLKuqo6PteZf8eKDVKeExXUPk",
		RecoveryKey: "did:key:zDnaeSezF2TgCD71b5DiiFyhHQwKAfsBVqTTHRMvP597Z5Ztn",
		Handle:      "alice.example.com",
		Service:     "https://example.com",
		Prev:        nil,
		Sig:         &sig,
	}

	signedDocBytes, err := op.marshalCBOR()
	if err != nil {
		t.Fatalf("marshalCBOR: %v", err)
	}

	hash := sha256.Sum256(signedDocBytes)
	truncated := hash[:15]
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(truncated)
	got := "did:plc:" + strings.ToLower(encoded)

	if got != wantDID {
		t.Fatalf("derived DID = %s, want %s", got, wantDID)
	}
}
