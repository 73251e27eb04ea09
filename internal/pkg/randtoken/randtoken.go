package randtoken

import (
	"crypto/rand"
	"fmt"
)

// Alphabet for slug generation (62 characters: 0-9, a-z, A-Z)
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const digits = "0123456789"

// GenerateSecureSlug creates a cryptographically secure random Base62 slug.
// Used for resume tokens, which must be opaque and unguessable.
func GenerateSecureSlug(length int) (string, error) {
	return generate(length, alphabet, 248) // 248 is the largest multiple of 62 below 256
}

// GenerateNumericCode creates a cryptographically secure numeric one-time
// code of the given number of digits.
func GenerateNumericCode(length int) (string, error) {
	return generate(length, digits, 250) // 250 is the largest multiple of 10 below 256
}

// generate fills length characters from charset using rejection sampling to
// avoid modulo bias.
func generate(length int, charset string, maxRandomByte byte) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid token length: %d", length)
	}

	out := make([]byte, length)
	buf := make([]byte, length*2)
	written := 0

	for written < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}

		for _, b := range buf {
			if b >= maxRandomByte {
				continue
			}
			out[written] = charset[int(b)%len(charset)]
			written++
			if written == length {
				break
			}
		}
	}

	return string(out), nil
}
