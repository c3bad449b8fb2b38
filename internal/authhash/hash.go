// Package authhash derives a comparable hash for the control channel's
// "protect" verb (vendor password-lock a removable cartridge).
package authhash

import (
	"crypto/sha1"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	iterations = 75000
	keyLen     = 32
)

// Derive hashes password against salt (typically the image path or a
// per-LUN identifier), producing a fixed-size key suitable for storing
// and later comparing with CheckPassword. The KDF parameters are fixed
// rather than configurable: this is a convenience lock, not a security
// boundary, and a fixed cost keeps attach-time behavior predictable.
func Derive(password, salt string) []byte {
	paddedSalt := fmt.Sprintf("%-20s", salt)
	return pbkdf2.Key([]byte(password), []byte(paddedSalt[:20]), iterations, keyLen, sha1.New)
}

// CheckPassword reports whether password derives to the given stored hash.
func CheckPassword(password, salt string, stored []byte) bool {
	if len(stored) == 0 {
		return false
	}
	got := Derive(password, salt)
	if len(got) != len(stored) {
		return false
	}
	var diff byte
	for i := range got {
		diff |= got[i] ^ stored[i]
	}
	return diff == 0
}
