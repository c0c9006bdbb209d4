// internal/auth/auth_test.go
package auth

import (
	"strings"
	"testing"
)

func TestDeriveTokenDeterministic(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	if len(secret) != SecretLength {
		t.Fatalf("expected %d-byte secret, got %d", SecretLength, len(secret))
	}

	a := DeriveToken(secret)
	b := DeriveToken(secret)
	if a != b {
		t.Errorf("derivation not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if a != strings.ToLower(a) {
		t.Error("token must be lowercase hex")
	}
}

func TestVerifyToken(t *testing.T) {
	secret, _ := GenerateSecret()
	other, _ := GenerateSecret()

	if !VerifyToken(DeriveToken(secret), secret) {
		t.Error("token derived from the same secret must verify")
	}
	if VerifyToken(DeriveToken(other), secret) {
		t.Error("token derived from another secret must not verify")
	}

	// Malformed inputs return false, never panic.
	for _, presented := range []string{"", "short", strings.Repeat("z", 64), strings.Repeat("0", 65)} {
		if VerifyToken(presented, secret) {
			t.Errorf("malformed token %q verified", presented)
		}
	}
	if VerifyToken(DeriveToken(secret), nil) {
		t.Error("empty secret must not verify anything")
	}
}

func TestSecretEncoding(t *testing.T) {
	secret, _ := GenerateSecret()

	encoded := EncodeSecret(secret)
	decoded, err := DecodeSecret(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != string(secret) {
		t.Error("secret round-trip mismatch")
	}

	if _, err := DecodeSecret("not base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := DecodeSecret("AAAA"); err == nil {
		t.Error("expected error for wrong length")
	}
}
