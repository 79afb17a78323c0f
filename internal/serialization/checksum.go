package serialization

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeChecksum returns the hex encoded SHA-256 of data.
func ComputeChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateChecksum compares a computed checksum against the stored one.
// An empty stored checksum is accepted for files written without one.
func ValidateChecksum(computed, stored string) error {
	if stored == "" || computed == stored {
		return nil
	}
	return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, stored, computed)
}
