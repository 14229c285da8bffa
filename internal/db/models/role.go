// Package models - role.go defines the Role model, a named permission set assignable to many
// users, along with the system roles seeded on startup.
package models

import (
	"encoding/json"
	"time"
)

// Role represents a named set of permissions
type Role struct {
	ID           string
	Name         string
	Description  *string
	Permissions  json.RawMessage // ["perm", ...] or {"perm": true}; "*" and "admin" grant everything
	IsSystemRole bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SystemRoles returns the roles every deployment starts with
func SystemRoles() []Role {
	adminDesc := "Full access to every resource"
	developerDesc := "Manage projects, vectors, tables and events"
	memberDesc := "Read access to organization projects"
	guestDesc := "Read-only access to shared projects"

	return []Role{
		{
			Name:         "ADMIN",
			Description:  &adminDesc,
			Permissions:  json.RawMessage(`["*"]`),
			IsSystemRole: true,
		},
		{
			Name:         "DEVELOPER",
			Description:  &developerDesc,
			Permissions:  json.RawMessage(`["projects:read","projects:write","vectors:write","tables:write","events:write","api_keys:manage"]`),
			IsSystemRole: true,
		},
		{
			Name:         "MEMBER",
			Description:  &memberDesc,
			Permissions:  json.RawMessage(`["projects:read","organizations:read"]`),
			IsSystemRole: true,
		},
		{
			Name:         "GUEST",
			Description:  &guestDesc,
			Permissions:  json.RawMessage(`["projects:read"]`),
			IsSystemRole: true,
		},
	}
}
