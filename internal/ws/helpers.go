package ws

import (
	"crypto/rand"
	"encoding/hex"
)

// newSessionID returns an 8-char random hex id, effectively
// collision-free within a process lifetime.
func newSessionID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
