// Package checksum computes content digests for guide identity.
package checksum

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Sum returns the hex-encoded BLAKE3 digest of data. Identical raw bytes
// always produce the same digest, which is how idempotent re-imports are
// detected.
func Sum(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}
