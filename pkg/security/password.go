package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor applied when none is configured.
const DefaultBcryptCost = 12

// PasswordHasher hashes plaintext passwords with bcrypt. The salt is embedded
// in the output, so hashing the same input twice yields different strings.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher with the given cost. Costs outside the
// bcrypt range fall back to DefaultBcryptCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns the bcrypt hash of the plaintext. Empty input is rejected.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether the plaintext matches the stored hash. Malformed or
// empty inputs yield false rather than an error so the caller cannot tell a
// corrupted hash apart from a wrong password.
func (h *PasswordHasher) Verify(plaintext, hash string) bool {
	if plaintext == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// DigestToken returns the hex-encoded SHA-256 of a raw token string. Blacklist
// entries store this digest, never the token itself.
func DigestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
