// Package crypto provides session token generation and password hashing.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

const saltLength = 16

// NewTokenString returns a fresh unguessable session token value.
func NewTokenString() string {
	return uuid.NewString()
}

// GenerateSalt returns a random per-user salt, hex-encoded.
func GenerateSalt() (string, error) {
	b := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashPassword hashes a password with Argon2id under the given hex salt.
func HashPassword(password, salt string) string {
	sum := argon2.IDKey([]byte(password), []byte(salt), 1, 64*1024, 4, 32)
	return hex.EncodeToString(sum)
}

// VerifyPassword reports whether password hashes to hash under salt.
// The comparison is constant-time.
func VerifyPassword(password, salt, hash string) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}
