// Package auth - resolver.go evaluates whether a user holds a permission. Evaluation is a pure
// function over a Snapshot of the user's authorization fields, so callers load the snapshot once
// (see services.UserService.Authorize) and can evaluate any number of permissions against it.
package auth

import (
	"encoding/json"

	"github.com/ainative/accounts/internal/db/models"
)

// Source names the field that granted a permission
type Source string

const (
	SourceNone            Source = "none"
	SourceSuperuser       Source = "superuser"
	SourceRoleSet         Source = "role_set"
	SourceLegacyRole      Source = "legacy_role"
	SourceUserPermissions Source = "user_permissions"
)

// Snapshot is the immutable set of fields authorization depends on.
type Snapshot struct {
	IsSuperuser     bool
	Role            models.UserRole
	RolePermissions []json.RawMessage // permissions blob of every assigned role
	Permissions     json.RawMessage   // free-form user grants
}

// Decision is the outcome of Resolve.
type Decision struct {
	Allowed bool
	Source  Source
}

// NewSnapshot builds a Snapshot from a user and the roles assigned to them.
func NewSnapshot(u *models.User, roles []*models.Role) Snapshot {
	s := Snapshot{
		IsSuperuser: u.IsSuperuser,
		Role:        u.Role,
		Permissions: u.Permissions,
	}
	for _, r := range roles {
		s.RolePermissions = append(s.RolePermissions, r.Permissions)
	}
	return s
}

// Resolve checks perm against the snapshot in precedence order: superuser,
// assigned role sets, the legacy role string, then the user's own grants.
// Every source can only grant. The first one that does is reported.
func Resolve(s Snapshot, perm string) Decision {
	if s.IsSuperuser {
		return Decision{Allowed: true, Source: SourceSuperuser}
	}

	for _, blob := range s.RolePermissions {
		if grants(blob, perm, true) {
			return Decision{Allowed: true, Source: SourceRoleSet}
		}
	}

	// Only ADMIN is privileged; DEVELOPER, USER, MEMBER and GUEST grant nothing here.
	if s.Role == models.UserRoleAdmin {
		return Decision{Allowed: true, Source: SourceLegacyRole}
	}

	if grants(s.Permissions, perm, false) {
		return Decision{Allowed: true, Source: SourceUserPermissions}
	}

	return Decision{Allowed: false, Source: SourceNone}
}

// Can is shorthand for Resolve(s, perm).Allowed.
func Can(s Snapshot, perm string) bool {
	return Resolve(s, perm).Allowed
}

// grants reports whether a permissions blob grants perm. The blob is either
// a JSON array of names or an object of name to bool. Malformed or empty blobs
// grant nothing.
func grants(blob json.RawMessage, perm string, allowWildcard bool) bool {
	if len(blob) == 0 {
		return false
	}

	matches := func(name string) bool {
		if name == perm {
			return true
		}
		return allowWildcard && (name == string(PermissionWildcard) || name == string(PermissionAdmin))
	}

	var list []string
	if err := json.Unmarshal(blob, &list); err == nil {
		for _, name := range list {
			if matches(name) {
				return true
			}
		}
		return false
	}

	var set map[string]bool
	if err := json.Unmarshal(blob, &set); err == nil {
		for name, on := range set {
			if on && matches(name) {
				return true
			}
		}
	}
	return false
}
