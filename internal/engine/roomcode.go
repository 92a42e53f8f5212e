package engine

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// generateRoomCode produces a 6-digit numeric code (e.g. "123456") short
// enough for a person to read aloud or type by hand.
func generateRoomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("engine: generate room code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
