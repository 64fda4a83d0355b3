package security

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("pw1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if hash == "pw1" {
		t.Fatalf("hash must not equal the plaintext")
	}

	if err := CheckPassword(hash, "pw1"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}

	if err := CheckPassword(hash, "pw2"); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestBurnCompareDoesNotPanic(t *testing.T) {
	BurnCompare("anything")
}

func TestCheckPassword_OverlongIsMismatch(t *testing.T) {
	hash, err := HashPassword("pw1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if err := CheckPassword(hash, strings.Repeat("x", MaxPasswordBytes+1)); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}

	if _, err := HashPassword(strings.Repeat("x", MaxPasswordBytes+1)); err == nil {
		t.Fatalf("expected bcrypt to refuse an overlong password")
	}
}
