package ledger

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// IDGenerator produces unique identifiers for pools and proposals.
type IDGenerator func() string

// NewID returns 16 random bytes rendered as 32 lowercase hex characters.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
