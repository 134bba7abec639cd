// Package auth derives and generates site API keys.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix marks fedplane site keys so they are recognizable in config files.
const KeyPrefix = "fp_"

// HashKey returns a SHA-256 hash of the key. Only hashes are persisted.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// GenerateKey returns a new random site key with 256 bits of entropy.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate site key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}
