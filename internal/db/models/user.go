// Package models defines the record types stored by the accounts service.
// Each type maps to one table. Relationships between records are never held as
// live references; repositories reconstruct them by query over foreign keys and
// association tables.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a lifecycle change is not allowed from
// the record's current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// UserStatus is the lifecycle state of a user account
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusInactive  UserStatus = "INACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
	UserStatusPending   UserStatus = "PENDING"
)

// userTransitions lists the states each status may move to.
var userTransitions = map[UserStatus][]UserStatus{
	UserStatusPending:   {UserStatusActive, UserStatusInactive},
	UserStatusActive:    {UserStatusInactive, UserStatusSuspended},
	UserStatusInactive:  {UserStatusActive},
	UserStatusSuspended: {UserStatusActive, UserStatusInactive},
}

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	_, ok := userTransitions[s]
	return ok
}

// CanTransitionTo reports whether a user in status s may move to next.
func (s UserStatus) CanTransitionTo(next UserStatus) bool {
	for _, allowed := range userTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// UserRole is the legacy coarse-grained role stored on the user row.
// USER and MEMBER are distinct values; neither implies the other.
type UserRole string

const (
	UserRoleAdmin     UserRole = "ADMIN"
	UserRoleDeveloper UserRole = "DEVELOPER"
	UserRoleUser      UserRole = "USER"
	UserRoleGuest     UserRole = "GUEST"
	UserRoleMember    UserRole = "MEMBER"
)

// Valid reports whether r is one of the known legacy roles.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleAdmin, UserRoleDeveloper, UserRoleUser, UserRoleGuest, UserRoleMember:
		return true
	}
	return false
}

// User represents an account holder
type User struct {
	ID                   string
	Email                string
	Username             *string
	FullName             *string
	HashedPassword       *string `json:"-"`
	GitHubID             *string // external OAuth identifier
	IsActive             bool
	Status               UserStatus
	IsSuperuser          bool
	EmailVerified        bool
	Role                 UserRole
	Permissions          json.RawMessage // free-form grants, {"perm": true} or ["perm"]
	LastLoginAt          *time.Time
	PasswordResetToken   *string    `json:"-"` // SHA-256 of the emailed token
	PasswordResetExpires *time.Time `json:"-"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewUser returns a user with the registration defaults applied.
func NewUser(email string) *User {
	return &User{
		Email:       email,
		IsActive:    true,
		Status:      UserStatusActive,
		Role:        UserRoleUser,
		Permissions: json.RawMessage(`{}`),
	}
}

// SetStatus moves the user to next, keeping IsActive in step with the status.
func (u *User) SetStatus(next UserStatus) error {
	if !u.Status.CanTransitionTo(next) {
		return fmt.Errorf("user %s: %s -> %s: %w", u.ID, u.Status, next, ErrInvalidTransition)
	}
	u.Status = next
	u.IsActive = next == UserStatusActive
	return nil
}
