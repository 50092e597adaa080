package hashing

import (
	"strings"
	"testing"
)

func TestHashAndCompareToken(t *testing.T) {
	hasher := NewHasher()

	// Longer than bcrypt's 72 byte input limit, like a signed JWT.
	token := strings.Repeat("abc123.", 30)

	hash, err := hasher.HashToken(token)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if hash == token {
		t.Fatal("hash must differ from the raw token")
	}
	if !hasher.CompareToken(token, hash) {
		t.Fatal("expected token to match its own hash")
	}
	if hasher.CompareToken(token+"x", hash) {
		t.Fatal("expected mismatch for a different token")
	}
	if hasher.CompareToken(token, "not-a-bcrypt-hash") {
		t.Fatal("expected mismatch for a malformed hash")
	}
}

func TestHashTokenIsSalted(t *testing.T) {
	hasher := NewHasher()

	first, err := hasher.HashToken("token")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	second, err := hasher.HashToken("token")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if first == second {
		t.Fatal("expected distinct salts for repeated hashing")
	}
	if !hasher.CompareToken("token", first) || !hasher.CompareToken("token", second) {
		t.Fatal("both hashes must verify the same token")
	}
}
