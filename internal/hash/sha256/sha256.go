// Package sha256 provides SHA-256 digests of extracted document text.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements publisher.TextHasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// HashText returns the hex digest of text's UTF-8 bytes, or "" for empty text.
func (h *Hasher) HashText(text string) string {
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
