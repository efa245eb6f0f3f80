// Package credential generates the shared passwords handed to the CI and
// repository services.
package credential

import (
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// Length is the number of characters in a generated credential.
	Length = 32

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// limit is the largest multiple of len(alphabet) that fits in a byte.
	// Bytes at or above it are discarded so every symbol is equally likely.
	limit = 256 - 256%len(alphabet)
)

// Generator returns a fresh credential on each call.
type Generator func() (string, error)

// Generate returns a random credential drawn from crypto/rand.
func Generate() (string, error) {
	return generate(rand.Reader)
}

func generate(r io.Reader) (string, error) {
	out := make([]byte, 0, Length)
	buf := make([]byte, Length+Length/4)
	for len(out) < Length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == Length {
				break
			}
		}
	}
	return string(out), nil
}
