package store

import (
	"crypto/rand"
	"encoding/hex"
)

// newTagID returns a random hex identifier for tags created inside the store.
func newTagID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "id-unknown"
	}
	return hex.EncodeToString(b[:])
}
