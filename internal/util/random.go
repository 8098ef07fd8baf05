package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

func RandomIntn(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return int(n.Int64()), nil
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// RandomDigits returns n uniformly chosen ASCII digits, suitable for one-time
// codes.
func RandomDigits(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		d, err := RandomIntn(10)
		if err != nil {
			return "", fmt.Errorf("generating digit: %w", err)
		}
		sb.WriteByte(byte('0' + d))
	}
	return sb.String(), nil
}
