package repo

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func newID() string {
	return uuid.NewString()
}

// NewToken returns a random 32-byte hex secret for inbound webhooks.
func NewToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to uuids.
		return uuid.NewString() + uuid.NewString()
	}
	return hex.EncodeToString(buf)
}
