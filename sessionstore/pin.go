package sessionstore

import (
	"crypto/rand"
	"crypto/subtle"

	"github.com/pkg/errors"
)

// pinAlphabet omits ambiguous characters (0/O, 1/I/l).
const pinAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

const defaultPinLength = 8

// generatePin draws a random alphanumeric pin from crypto/rand.
func generatePin(length int) (string, error) {
	if length <= 0 {
		length = defaultPinLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to read random bytes for pin")
	}
	for i := range buf {
		buf[i] = pinAlphabet[int(buf[i])%len(pinAlphabet)]
	}
	return string(buf), nil
}

// pinEqual compares pins in constant time.
func pinEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
