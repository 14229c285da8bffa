// Package models - organization.go defines the Organization model, a tenant grouping users
// and projects, and the association rows linking users to organizations, projects and roles.
package models

import "time"

// Organization represents a tenant
type Organization struct {
	ID          string
	Name        string // unique, URL-safe
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserOrganization links a user to an organization
type UserOrganization struct {
	UserID         string
	OrganizationID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UserProject shares a project with a user who does not own it
type UserProject struct {
	UserID    string
	ProjectID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserRoleAssignment places a user in a role's member set
type UserRoleAssignment struct {
	UserID    string
	RoleID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
