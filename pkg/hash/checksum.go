package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Checksum returns the hex sha256 of content. Shadow writes log it so
// drift between replicas can be spotted without dumping content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ShortChecksum returns the first 12 hex characters, enough to eyeball
// log lines.
func ShortChecksum(content string) string {
	return Checksum(content)[:12]
}
