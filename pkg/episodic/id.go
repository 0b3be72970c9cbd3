package episodic

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// NewID derives a 12-hex-character identifier from a short content
// fingerprint and the construction time. Collisions are accepted as
// negligible for this use case; callers must treat IDs as opaque.
func NewID(fingerprint string) string {
	seed := fmt.Sprintf("%s|%d", fingerprint, time.Now().UnixNano())
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:12]
}
