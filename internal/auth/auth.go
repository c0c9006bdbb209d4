// internal/auth/auth.go

// Package auth implements the shared-secret handshake. A daemon generation
// owns a single 32-byte secret; both peers independently derive the same
// bearer token from it, so the token never needs to be exchanged out of
// band beyond the secret itself.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// SecretLength is the size of a shared secret in bytes.
const SecretLength = 32

// tokenContext is the fixed HMAC message for bearer derivation.
const tokenContext = "p2p-auth"

// GenerateSecret returns a fresh cryptographically random shared secret.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, SecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return secret, nil
}

// DeriveToken computes the bearer token for a secret: lowercase hex of
// HMAC-SHA256(secret, "p2p-auth"). Deterministic, so client and daemon
// compute it independently.
func DeriveToken(secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(tokenContext))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyToken reports whether presented matches the bearer derived from
// secret. Comparison is constant-time; a length mismatch short-circuits.
// It never panics and returns false for any malformed input.
func VerifyToken(presented string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	expected := DeriveToken(secret)
	if len(presented) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// EncodeSecret encodes a secret for on-wire transport (standard base64
// with padding).
func EncodeSecret(secret []byte) string {
	return base64.StdEncoding.EncodeToString(secret)
}

// DecodeSecret decodes a base64 secret, enforcing the expected length.
func DecodeSecret(encoded string) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	if len(secret) != SecretLength {
		return nil, fmt.Errorf("decode secret: expected %d bytes, got %d", SecretLength, len(secret))
	}
	return secret, nil
}
