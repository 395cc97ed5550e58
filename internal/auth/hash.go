package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// PasswordHasher turns a plaintext password into a stored digest and checks
// candidates against it.
type PasswordHasher interface {
	Hash(password string) string
	Verify(password, digest string) bool
}

// SHA256Hasher is a deterministic, unsalted hex SHA-256 digest. Stored
// digests from existing deployments depend on this exact encoding.
type SHA256Hasher struct{}

func NewSHA256Hasher() *SHA256Hasher {
	return &SHA256Hasher{}
}

func (SHA256Hasher) Hash(password string) string {
	return HashString(password)
}

func (SHA256Hasher) Verify(password, digest string) bool {
	if digest == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashString(password)), []byte(digest)) == 1
}

// HashString returns a hex-encoded SHA-256 hash.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
