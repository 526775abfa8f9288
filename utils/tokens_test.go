package utils

import (
	"encoding/hex"
	"testing"
)

func TestGenerateShortToken(t *testing.T) {
	token := GenerateShortToken(3)
	if len(token) != 6 {
		t.Fatalf("expected 6 hex chars, got %q", token)
	}
	if _, err := hex.DecodeString(token); err != nil {
		t.Fatalf("token is not hex: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[GenerateShortToken(3)] = true
	}
	if len(seen) < 90 {
		t.Fatalf("tokens collide far too often: %d unique of 100", len(seen))
	}
}
