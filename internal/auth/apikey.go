// ABOUTME: API key generation and hashing for machine credentials
// ABOUTME: Keys carry an hx_ prefix; only the SHA-256 hash is persisted

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix is the fixed prefix of every console API key.
const KeyPrefix = "hx_"

// prefixLen is how many characters of the key are stored for display.
const prefixLen = 8

// GenerateAPIKey creates a new API key. It returns the plaintext key (shown
// once to the caller), its SHA-256 hash for storage, and the display prefix.
func GenerateAPIKey() (plaintext, hash, prefix string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generating key material: %w", err)
	}

	plaintext = KeyPrefix + hex.EncodeToString(raw)
	hash = HashAPIKey(plaintext)
	prefix = plaintext[:len(KeyPrefix)+prefixLen]
	return plaintext, hash, prefix, nil
}

// HashAPIKey returns the hex-encoded SHA-256 hash of a plaintext key.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// LooksLikeAPIKey reports whether a credential string has the API key shape.
// Used to route bearer credentials to key lookup instead of JWT parsing.
func LooksLikeAPIKey(credential string) bool {
	return strings.HasPrefix(credential, KeyPrefix)
}
