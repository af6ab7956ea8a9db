package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a short random hex id, used for request correlation.
func NewID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
