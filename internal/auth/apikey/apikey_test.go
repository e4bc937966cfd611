package apikey

import (
	"strings"
	"testing"
)

func TestHashKeyDeterministic(t *testing.T) {
	h1 := HashKey("my-secret-key")
	h2 := HashKey("my-secret-key")
	if h1 != h2 {
		t.Errorf("expected identical hashes, got %q and %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(h1))
	}
	if strings.ToLower(h1) != h1 {
		t.Errorf("expected lowercase hex, got %q", h1)
	}
}

func TestHashKeyDistinct(t *testing.T) {
	if HashKey("key-a") == HashKey("key-b") {
		t.Error("expected different keys to produce different hashes")
	}
}

func TestGenerateRawKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key := generateRawKey()
		if len(key) != 64 {
			t.Fatalf("expected 64 hex characters, got %d", len(key))
		}
		if seen[key] {
			t.Fatalf("generated duplicate key %q", key)
		}
		seen[key] = true
	}
}
