// Package sha256 derives content-addressed profile handles with SHA-256.
package sha256

import (
	"crypto/sha256"
	"encoding/base64"
)

// HandleLength is the fixed width of every derived handle.
const HandleLength = 12

// Handle digests name and returns the first HandleLength characters of the
// unpadded URL-safe base64 encoding of the digest.
func Handle(name string) string {
	sum := sha256.Sum256([]byte(name))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:HandleLength]
}
