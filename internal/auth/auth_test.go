package auth

import (
	"testing"
	"time"
)

func TestJWTManagerGenerateAndParseRoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	tok, err := m.Generate("user-1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := m.Parse(tok)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("expected user-1, got %q", claims.UserID)
	}
}

func TestJWTManagerRejectsExpiredToken(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute)

	tok, err := m.Generate("user-1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := m.Parse(tok); err == nil {
		t.Fatalf("expected an expired token to fail parsing")
	}
}

func TestJWTManagerRejectsTokenSignedWithDifferentSecret(t *testing.T) {
	tok, err := NewJWTManager("secret-a", time.Hour).Generate("user-1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := NewJWTManager("secret-b", time.Hour).Parse(tok); err == nil {
		t.Fatalf("expected a token signed with a different secret to fail parsing")
	}
}

func TestHashPasswordAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatalf("expected password to be hashed, not stored verbatim")
	}
	if err := CheckPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("expected matching password to check out, got %v", err)
	}
	if err := CheckPassword(hash, "wrong password"); err == nil {
		t.Fatalf("expected mismatched password to fail")
	}
}
