package crypto

import "testing"

func TestNewTokenString(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := NewTokenString()
		if tok == "" {
			t.Fatal("empty token")
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestPasswordHashing(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	if salt == "" {
		t.Fatal("empty salt")
	}

	hash := HashPassword("password123", salt)
	if hash == "" {
		t.Fatal("empty hash")
	}
	if hash == "password123" {
		t.Fatal("hash equals plaintext")
	}

	if !VerifyPassword("password123", salt, hash) {
		t.Error("VerifyPassword rejected the correct password")
	}
	if VerifyPassword("password124", salt, hash) {
		t.Error("VerifyPassword accepted a wrong password")
	}

	otherSalt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	if HashPassword("password123", otherSalt) == hash {
		t.Error("same hash under different salts")
	}
}
