package session

import (
	"crypto/rand"
	"encoding/hex"
)

// generateNonce produces a getnonce challenge: 8 random bytes, hex-encoded,
// matching the size the original getnonce/authenticate exchange used.
func generateNonce() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
