package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher produces and verifies one-way hashes of refresh tokens.
// Tokens are pre-digested with SHA-256 because bcrypt only reads the
// first 72 bytes of its input and a signed token is longer than that.
type Hasher struct {
	cost int
}

func NewHasher() *Hasher {
	return &Hasher{cost: bcrypt.DefaultCost}
}

// HashToken returns a hash suitable for persistence. The raw token is
// never stored.
func (h *Hasher) HashToken(token string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword(digest(token), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hashed), nil
}

// CompareToken reports whether the raw token matches the stored hash.
func (h *Hasher) CompareToken(token, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), digest(token)) == nil
}

func digest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return []byte(hex.EncodeToString(sum[:]))
}
