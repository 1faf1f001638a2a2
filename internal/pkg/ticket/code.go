package ticket

import (
	"crypto/rand"
	"fmt"
)

// Voucher codes use an unambiguous upper/digit alphabet so they survive being
// read aloud or typed from a printout.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	codeLength     = 8
	passwordLength = 8
)

// randomString draws length characters from alphabet using rejection
// sampling so no character is favored by modulo bias.
func randomString(alphabet string, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid code length: %d", length)
	}

	// Largest multiple of len(alphabet) that fits in a byte; values at or
	// above it are rejected so no character is favored.
	maxRandom := 256 - (256 % len(alphabet))

	out := make([]byte, length)
	buf := make([]byte, length*2)
	written := 0

	for written < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxRandom {
				continue
			}
			out[written] = alphabet[int(b)%len(alphabet)]
			written++
			if written == length {
				break
			}
		}
	}

	return string(out), nil
}

// GenerateCode returns a candidate voucher code. Uniqueness is the caller's
// responsibility.
func GenerateCode() (string, error) {
	return randomString(codeAlphabet, codeLength)
}

// GeneratePassword returns a voucher login password.
func GeneratePassword() (string, error) {
	return randomString(passwordAlphabet, passwordLength)
}

// GenerateUsername builds a login name from random digits.
func GenerateUsername() (string, error) {
	digits, err := randomString("0123456789", 6)
	if err != nil {
		return "", err
	}
	return "user" + digits, nil
}
