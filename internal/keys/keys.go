// Package keys generates and hashes device API keys. Only the hash is ever
// stored; the plaintext is shown to the caller exactly once at issuance.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Generate returns a new high-entropy device key: 32 random bytes encoded as
// unpadded base64url.
func Generate() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns the hex-encoded SHA-256 of a presented key. Deterministic, so
// it doubles as the lookup index for credential resolution.
func Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
