package storage

import (
	"crypto/sha256"
	"encoding/hex"
)

// SourceKey derives the storage identifier for a source URL: the hex
// SHA-256 of the URL exactly as configured. Distinct URLs get distinct keys.
func SourceKey(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:])
}
