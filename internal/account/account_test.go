package account

import (
	"strings"
	"testing"

	"github.com/primal-host/primal-pds/internal/identity"
)

func TestResolveRecoveryKeyGeneratesWhenEmpty(t *testing.T) {
	pub, didKey, err := resolveRecoveryKey("")
	if err != nil {
		t.Fatalf("resolveRecoveryKey: %v", err)
	}
	if !strings.HasPrefix(didKey, "did:key:z") {
		t.Fatalf("unexpected did:key: %s", didKey)
	}
	if identity.DIDKey(pub) != didKey {
		t.Fatalf("returned pubkey does not match returned did:key string")
	}
}

func TestResolveRecoveryKeyUsesProvided(t *testing.T) {
	priv, err := identity.GenerateKey(identity.CurveSecp256k1)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pub, err := priv.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	want := identity.DIDKey(pub)

	gotPub, gotDIDKey, err := resolveRecoveryKey(want)
	if err != nil {
		t.Fatalf("resolveRecoveryKey: %v", err)
	}
	if gotDIDKey != want {
		t.Fatalf("did:key mismatch: got %s, want %s", gotDIDKey, want)
	}
	if identity.DIDKey(gotPub) != want {
		t.Fatalf("parsed pubkey does not round-trip to the provided did:key")
	}
}

func TestResolveRecoveryKeyRejectsGarbage(t *testing.T) {
	if _, _, err := resolveRecoveryKey("not-a-did-key"); err == nil {
		t.Fatalf("expected error for malformed did:key")
	}
}

func TestBuildDIDDocument(t *testing.T) {
	priv, err := identity.GenerateKey(identity.CurveSecp256k1)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	multibase := identity.ExportPrivateKey(priv)

	doc, err := BuildDIDDocument("did:plc:abc123", "alice.example.com", multibase, "pds.example.com")
	if err != nil {
		t.Fatalf("BuildDIDDocument: %v", err)
	}
	if doc.ID != "did:plc:abc123" {
		t.Fatalf("unexpected id: %s", doc.ID)
	}
	if len(doc.VerificationMethod) != 1 || doc.VerificationMethod[0].Controller != doc.ID {
		t.Fatalf("unexpected verification method: %#v", doc.VerificationMethod)
	}
	if len(doc.Service) != 1 || doc.Service[0].ServiceEndpoint != "https://pds.example.com" {
		t.Fatalf("unexpected service: %#v", doc.Service)
	}
	if doc.AlsoKnownAs[0] != "at://alice.example.com" {
		t.Fatalf("unexpected alsoKnownAs: %#v", doc.AlsoKnownAs)
	}
}
