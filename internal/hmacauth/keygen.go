package hmacauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("hmacauth: read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
