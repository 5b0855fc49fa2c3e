package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateKeyHex returns a fresh random AES-256 key encoded as 64 hex characters.
func GenerateKeyHex() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
