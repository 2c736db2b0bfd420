// Package crypto implements server-side password hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	saltLen = 16
	scheme  = "argon2id"
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// storedHash is the parsed form of an encoded password hash. The persisted
// format stays a single "scheme$salt$digest" string; parsing happens once at
// the boundary.
type storedHash struct {
	scheme string
	salt   []byte
	digest []byte
}

// HashPassword derives an Argon2id digest of password with a fresh random salt
// and returns the encoded "argon2id$<salt>$<digest>" string. Two calls on the
// same password yield different encodings.
func HashPassword(password string) (string, error) {
	salt, err := RandBytes(saltLen)
	if err != nil {
		return "", err
	}
	digest := deriveKey([]byte(password), salt)
	enc := base64.RawStdEncoding
	return scheme + "$" + enc.EncodeToString(salt) + "$" + enc.EncodeToString(digest), nil
}

// VerifyPassword recomputes the digest with the stored salt and compares in
// constant time. Any malformed stored hash verifies false; it never panics.
func VerifyPassword(password, stored string) bool {
	parsed, ok := parseStoredHash(stored)
	if !ok {
		return false
	}
	// Derived keys have a fixed length; a stored digest of any other length is
	// malformed and short-circuits before the comparison.
	if len(parsed.digest) != int(argonKeyLen) {
		return false
	}
	got := deriveKey([]byte(password), parsed.salt)
	return subtle.ConstantTimeCompare(got, parsed.digest) == 1
}

func deriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

func parseStoredHash(stored string) (storedHash, bool) {
	parts := strings.Split(stored, "$")
	if len(parts) != 3 || parts[0] != scheme {
		return storedHash{}, false
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[1])
	if err != nil || len(salt) == 0 {
		return storedHash{}, false
	}
	digest, err := enc.DecodeString(parts[2])
	if err != nil || len(digest) == 0 {
		return storedHash{}, false
	}
	return storedHash{scheme: parts[0], salt: salt, digest: digest}, true
}
