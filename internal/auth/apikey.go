// Package auth provides the credential primitives of the account service: API key generation
// and hashing, password hashing, password reset tokens and the authorization resolver.
// Keys are hashed with SHA-256 so a presented key can be looked up by its digest; passwords use
// bcrypt. See internal/services for the request-time flows built on these primitives.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is the number of characters to show in displays
	DisplayPrefixLength = 10

	// DefaultKeyPrefix is used when no prefix is configured
	DefaultKeyPrefix = "ak_live"
)

// GenerateAPIKey creates a new random API key with the given prefix
// Returns: full key (to show once), SHA-256 hash (to store), display prefix
func GenerateAPIKey(prefix string) (key string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	// Construct full key: prefix_randomPart
	fullKey := fmt.Sprintf("%s_%s", prefix, base64.RawURLEncoding.EncodeToString(randomBytes))

	displayPrefixStr := fullKey
	if len(fullKey) > DisplayPrefixLength {
		displayPrefixStr = fullKey[:DisplayPrefixLength]
	}

	return fullKey, HashAPIKey(fullKey), displayPrefixStr, nil
}

// HashAPIKey returns the hex SHA-256 digest stored in api_keys.key_hash.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateResetToken returns a random password reset token and the digest to persist.
func GenerateResetToken() (token string, hash string, err error) {
	b := make([]byte, 32)
	if _, err = rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, HashAPIKey(token), nil
}
