// Package auth - permissions.go defines the permission names used by roles and API keys and
// validates the permission lists accepted when keys are issued.
package auth

import (
	"fmt"

	"github.com/ainative/accounts/internal/db/models"
)

// Permission is a single grant carried by a role, a user or an API key
type Permission string

const (
	// Generic API key grants
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"

	// Project scopes
	PermissionProjectsRead  Permission = "projects:read"
	PermissionProjectsWrite Permission = "projects:write"

	// Data plane scopes
	PermissionVectorsWrite Permission = "vectors:write"
	PermissionTablesWrite  Permission = "tables:write"
	PermissionEventsWrite  Permission = "events:write"

	// Organization management scopes
	PermissionOrganizationsRead  Permission = "organizations:read"
	PermissionOrganizationsWrite Permission = "organizations:write"

	// User management scopes
	PermissionUsersRead  Permission = "users:read"
	PermissionUsersWrite Permission = "users:write"

	// API key management scopes
	PermissionAPIKeysManage Permission = "api_keys:manage"

	// Admin grants everything
	PermissionAdmin Permission = models.PermissionAdmin

	// PermissionWildcard grants everything when it appears in a role blob
	PermissionWildcard Permission = "*"
)

// AllPermissions returns every permission an API key may carry
func AllPermissions() []Permission {
	return []Permission{
		PermissionRead,
		PermissionWrite,
		PermissionProjectsRead,
		PermissionProjectsWrite,
		PermissionVectorsWrite,
		PermissionTablesWrite,
		PermissionEventsWrite,
		PermissionOrganizationsRead,
		PermissionOrganizationsWrite,
		PermissionUsersRead,
		PermissionUsersWrite,
		PermissionAPIKeysManage,
		PermissionAdmin,
	}
}

// ValidatePermissions checks that every entry names a known permission
func ValidatePermissions(perms []string) error {
	valid := make(map[string]bool, len(AllPermissions()))
	for _, p := range AllPermissions() {
		valid[string(p)] = true
	}

	for _, p := range perms {
		if !valid[p] {
			return fmt.Errorf("invalid permission: %q", p)
		}
	}
	return nil
}

// DefaultAPIKeyPermissions returns the permissions given to a key created without any
func DefaultAPIKeyPermissions() []string {
	return []string{string(PermissionRead)}
}
