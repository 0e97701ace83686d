// Package contentaddr computes the content hashes used as dedup keys for
// uploaded documents.
package contentaddr

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the lowercase hex SHA-256 digest of content. Deterministic,
// no I/O; the empty input hashes like any other byte sequence.
func Hash(content []byte) string {
	digest := sha256.Sum256(content)
	return hex.EncodeToString(digest[:])
}
