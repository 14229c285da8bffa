// Package models - api_key.go defines the APIKey model, its derived validity state, and the
// append-only activity log entries recorded against each key.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrAPIKeyRevoked is returned when revoking a key that is already revoked.
var ErrAPIKeyRevoked = errors.New("api key already revoked")

// PermissionAdmin grants every permission on an API key.
const PermissionAdmin = "admin"

// DefaultRateLimit is the requests-per-hour ceiling given to new keys.
const DefaultRateLimit = 1000

// APIKeyState is derived from the stored flags and the current time; it is never persisted.
type APIKeyState string

const (
	APIKeyStateActive   APIKeyState = "active"
	APIKeyStateExpired  APIKeyState = "expired"
	APIKeyStateRevoked  APIKeyState = "revoked"
	APIKeyStateDisabled APIKeyState = "disabled"
)

// APIKey represents a long-lived credential owned by a user
type APIKey struct {
	ID                       string
	UserID                   string
	Name                     string // friendly name, e.g. "CI pipeline"
	Description              *string
	KeyPrefix                string   // first characters of the plaintext, for display only
	KeyHash                  string   `json:"-"` // hex SHA-256 of the plaintext
	Permissions              []string // "admin" grants everything
	RateLimit                int      // requests per hour
	IPWhitelist              []string // exact addresses or CIDR ranges; empty allows any
	IsActive                 bool
	ExpiresAt                *time.Time
	LastUsedAt               *time.Time
	RevokedAt                *time.Time
	RevokedReason            *string
	UsageCount               int64
	RequestCountToday        int64
	LastRequestAt            *time.Time
	CustomMetadata           json.RawMessage
	ExpiryNotificationSentAt *time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// IsExpiredAt reports whether the key had expired at now.
func (k *APIKey) IsExpiredAt(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// IsExpired reports whether the key has expired.
func (k *APIKey) IsExpired() bool {
	return k.IsExpiredAt(time.Now())
}

// IsValidAt reports whether the key may authenticate a request at now.
func (k *APIKey) IsValidAt(now time.Time) bool {
	return k.IsActive && k.RevokedAt == nil && !k.IsExpiredAt(now)
}

// IsValid reports whether the key may authenticate a request right now.
func (k *APIKey) IsValid() bool {
	return k.IsValidAt(time.Now())
}

// StateAt collapses the key's flags into a single lifecycle state.
func (k *APIKey) StateAt(now time.Time) APIKeyState {
	switch {
	case k.RevokedAt != nil:
		return APIKeyStateRevoked
	case !k.IsActive:
		return APIKeyStateDisabled
	case k.IsExpiredAt(now):
		return APIKeyStateExpired
	default:
		return APIKeyStateActive
	}
}

// HasPermission reports whether the key grants perm.
func (k *APIKey) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == perm || p == PermissionAdmin {
			return true
		}
	}
	return false
}

// Revoke permanently disables the key.
func (k *APIKey) Revoke(reason string, now time.Time) error {
	if k.RevokedAt != nil {
		return ErrAPIKeyRevoked
	}
	k.IsActive = false
	k.RevokedAt = &now
	if reason != "" {
		k.RevokedReason = &reason
	}
	return nil
}

// APIKeyAction names an event recorded in the activity log
type APIKeyAction string

const (
	APIKeyActionCreated     APIKeyAction = "created"
	APIKeyActionValidated   APIKeyAction = "validated"
	APIKeyActionRejected    APIKeyAction = "rejected"
	APIKeyActionRateLimited APIKeyAction = "rate_limited"
	APIKeyActionRevoked     APIKeyAction = "revoked"
)

// APIKeyActivityLog is one append-only entry in a key's history
type APIKeyActivityLog struct {
	ID        string
	APIKeyID  string
	Action    APIKeyAction
	IPAddress *string
	UserAgent *string
	Endpoint  *string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}
