package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	t.Run("returns three non-empty values", func(t *testing.T) {
		key, hash, prefix, err := GenerateAPIKey(DefaultKeyPrefix)
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if key == "" {
			t.Error("GenerateAPIKey() returned empty key")
		}
		if hash == "" {
			t.Error("GenerateAPIKey() returned empty hash")
		}
		if prefix == "" {
			t.Error("GenerateAPIKey() returned empty displayPrefix")
		}
	})

	t.Run("key starts with prefix_", func(t *testing.T) {
		key, _, _, err := GenerateAPIKey("ak_live")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !strings.HasPrefix(key, "ak_live_") {
			t.Errorf("GenerateAPIKey() key = %q, want prefix %q", key, "ak_live_")
		}
	})

	t.Run("hash is the SHA-256 of the key", func(t *testing.T) {
		key, hash, _, err := GenerateAPIKey("ak_live")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if hash != HashAPIKey(key) {
			t.Errorf("hash = %q, want HashAPIKey(key) = %q", hash, HashAPIKey(key))
		}
		if len(hash) != 64 {
			t.Errorf("hash len = %d, want 64 hex chars", len(hash))
		}
	})

	t.Run("display prefix is the first DisplayPrefixLength chars", func(t *testing.T) {
		key, _, displayPrefix, err := GenerateAPIKey("ak_live")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if len(displayPrefix) != DisplayPrefixLength {
			t.Errorf("displayPrefix len = %d, want %d", len(displayPrefix), DisplayPrefixLength)
		}
		if !strings.HasPrefix(key, displayPrefix) {
			t.Errorf("key %q does not start with displayPrefix %q", key, displayPrefix)
		}
	})

	t.Run("two calls produce different keys", func(t *testing.T) {
		key1, hash1, _, _ := GenerateAPIKey("ak_live")
		key2, hash2, _, _ := GenerateAPIKey("ak_live")
		if key1 == key2 || hash1 == hash2 {
			t.Error("GenerateAPIKey() produced identical keys on consecutive calls")
		}
	})

	t.Run("empty prefix produces key starting with _", func(t *testing.T) {
		key, _, _, err := GenerateAPIKey("")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !strings.HasPrefix(key, "_") {
			t.Errorf("GenerateAPIKey() key = %q, want prefix %q", key, "_")
		}
	})
}

func TestHashAPIKey(t *testing.T) {
	// echo -n "password" | sha256sum
	const want = "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8"
	if got := HashAPIKey("password"); got != want {
		t.Errorf("HashAPIKey(password) = %q, want %q", got, want)
	}
	if HashAPIKey("a") == HashAPIKey("b") {
		t.Error("distinct inputs hashed to the same digest")
	}
}

func TestGenerateResetToken(t *testing.T) {
	token, hash, err := GenerateResetToken()
	if err != nil {
		t.Fatalf("GenerateResetToken() error: %v", err)
	}
	if token == "" || hash != HashAPIKey(token) {
		t.Errorf("token=%q hash=%q", token, hash)
	}
}
