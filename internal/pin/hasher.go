// Package pin hashes and checks the 4-digit local access PIN.
//
// The digest is an unsalted SHA-256 rendered as lowercase hex, compared with
// plain string equality. Profiles already store hashes in this exact format.
package pin

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Length is the number of digits in a PIN.
const Length = 4

// ErrInvalidPIN is returned for anything other than exactly four ASCII digits.
var ErrInvalidPIN = errors.New("PIN must be exactly 4 digits")

// Valid reports whether s is exactly four ASCII digits.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !IsDigit(s[i]) {
			return false
		}
	}
	return true
}

// IsDigit reports whether b is an ASCII digit.
func IsDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// Hash returns the 64-character lowercase hex digest stored on profiles.
func Hash(p string) (string, error) {
	if !Valid(p) {
		return "", ErrInvalidPIN
	}
	sum := sha256.Sum256([]byte(p))
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether p hashes to stored. Malformed PINs never match.
func Verify(p, stored string) bool {
	if stored == "" {
		return false
	}
	h, err := Hash(p)
	if err != nil {
		return false
	}
	return h == stored
}
