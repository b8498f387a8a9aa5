package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// KeyPrefix is the prefix for all datagate access keys.
	KeyPrefix = "dgk_"
	// KeyHexLength is the expected length of the hex portion of an access key.
	KeyHexLength = 64 // 32 bytes = 64 hex chars
)

// NewAccessKey mints a fresh opaque access key from a cryptographically
// random source. Keys are never derived from the grant's claims.
func NewAccessKey() (string, error) {
	buf := make([]byte, KeyHexLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// IsValidKeyFormat checks that the access key has the expected shape.
func IsValidKeyFormat(key string) bool {
	if !strings.HasPrefix(key, KeyPrefix) {
		return false
	}
	hexPart := strings.TrimPrefix(key, KeyPrefix)
	if len(hexPart) != KeyHexLength {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}

// HashKey returns the SHA-256 hash of an access key. Only hashes are stored;
// the raw key exists server-side just long enough to hand back to the caller.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// CompareKeyHash compares an access key against a stored hash in constant time.
func CompareKeyHash(key, storedHash string) bool {
	computed := HashKey(key)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
