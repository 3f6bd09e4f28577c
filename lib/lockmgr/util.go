package lockmgr

import (
	"crypto/rand"
)

const (
	// minOwnerIDLength is the smallest value size a store must have to hold owner IDs
	minOwnerIDLength = 8
)

// generateOwnerID creates a new unique owner ID of the given length
func generateOwnerID(length int) ([]byte, error) {
	randomBytes := make([]byte, length)
	_, err := rand.Read(randomBytes)
	return randomBytes, err
}
