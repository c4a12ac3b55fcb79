package dispatch

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

var codeSpace = big.NewInt(10000)

// newCode returns a uniformly random four digit code.
func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// normalizeCode keeps only the digits of what the courier typed.
func normalizeCode(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
