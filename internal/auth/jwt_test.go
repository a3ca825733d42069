package auth

import "testing"

func TestCreateAndValidateTokenPair(t *testing.T) {
	m := NewJWTManager(GenerateSecret(), "https://pds.example.com")
	pair, err := m.CreateTokenPair("did:plc:alice")
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}

	did, err := m.ValidateAccessToken(pair.AccessJwt)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if did != "did:plc:alice" {
		t.Fatalf("unexpected subject: %s", did)
	}

	did, err = m.ValidateRefreshToken(pair.RefreshJwt)
	if err != nil {
		t.Fatalf("ValidateRefreshToken: %v", err)
	}
	if did != "did:plc:alice" {
		t.Fatalf("unexpected subject: %s", did)
	}
}

func TestValidateAccessTokenRejectsWrongScope(t *testing.T) {
	m := NewJWTManager(GenerateSecret(), "https://pds.example.com")
	pair, err := m.CreateTokenPair("did:plc:alice")
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}

	if _, err := m.ValidateAccessToken(pair.RefreshJwt); err == nil {
		t.Fatalf("expected refresh token to be rejected as an access token")
	}
	if _, err := m.ValidateRefreshToken(pair.AccessJwt); err == nil {
		t.Fatalf("expected access token to be rejected as a refresh token")
	}
}

func TestValidateAccessTokenRejectsForeignSecret(t *testing.T) {
	m1 := NewJWTManager(GenerateSecret(), "https://pds.example.com")
	m2 := NewJWTManager(GenerateSecret(), "https://pds.example.com")

	pair, err := m1.CreateTokenPair("did:plc:alice")
	if err != nil {
		t.Fatalf("CreateTokenPair: %v", err)
	}
	if _, err := m2.ValidateAccessToken(pair.AccessJwt); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
}
