package auth

import (
	"encoding/json"
	"testing"

	"github.com/ainative/accounts/internal/db/models"
)

func TestResolve(t *testing.T) {
	raw := func(s string) json.RawMessage { return json.RawMessage(s) }

	tests := []struct {
		name       string
		snapshot   Snapshot
		perm       string
		wantAllow  bool
		wantSource Source
	}{
		{
			name:       "superuser wins regardless of other fields",
			snapshot:   Snapshot{IsSuperuser: true, Role: models.UserRoleGuest, Permissions: raw(`{"projects:write":false}`)},
			perm:       "projects:write",
			wantAllow:  true,
			wantSource: SourceSuperuser,
		},
		{
			name:       "role set array grants",
			snapshot:   Snapshot{Role: models.UserRoleUser, RolePermissions: []json.RawMessage{raw(`["projects:read"]`)}},
			perm:       "projects:read",
			wantAllow:  true,
			wantSource: SourceRoleSet,
		},
		{
			name:       "role set object grants",
			snapshot:   Snapshot{RolePermissions: []json.RawMessage{raw(`{"billing:read":true}`)}},
			perm:       "billing:read",
			wantAllow:  true,
			wantSource: SourceRoleSet,
		},
		{
			name:       "role set object false does not grant",
			snapshot:   Snapshot{RolePermissions: []json.RawMessage{raw(`{"billing:read":false}`)}},
			perm:       "billing:read",
			wantAllow:  false,
			wantSource: SourceNone,
		},
		{
			name:       "role wildcard grants anything",
			snapshot:   Snapshot{RolePermissions: []json.RawMessage{raw(`["*"]`)}},
			perm:       "never:granted",
			wantAllow:  true,
			wantSource: SourceRoleSet,
		},
		{
			name:       "role admin grants anything",
			snapshot:   Snapshot{RolePermissions: []json.RawMessage{raw(`{"admin":true}`)}},
			perm:       "never:granted",
			wantAllow:  true,
			wantSource: SourceRoleSet,
		},
		{
			name:       "role set reported before legacy admin",
			snapshot:   Snapshot{Role: models.UserRoleAdmin, RolePermissions: []json.RawMessage{raw(`["projects:read"]`)}},
			perm:       "projects:read",
			wantAllow:  true,
			wantSource: SourceRoleSet,
		},
		{
			name:       "legacy ADMIN grants when role set does not",
			snapshot:   Snapshot{Role: models.UserRoleAdmin, RolePermissions: []json.RawMessage{raw(`["projects:read"]`)}},
			perm:       "users:write",
			wantAllow:  true,
			wantSource: SourceLegacyRole,
		},
		{
			name:       "legacy DEVELOPER is not privileged",
			snapshot:   Snapshot{Role: models.UserRoleDeveloper},
			perm:       "projects:write",
			wantAllow:  false,
			wantSource: SourceNone,
		},
		{
			name:       "legacy MEMBER is not privileged",
			snapshot:   Snapshot{Role: models.UserRoleMember},
			perm:       "projects:read",
			wantAllow:  false,
			wantSource: SourceNone,
		},
		{
			name:       "user permission object grants",
			snapshot:   Snapshot{Role: models.UserRoleUser, Permissions: raw(`{"events:write":true}`)},
			perm:       "events:write",
			wantAllow:  true,
			wantSource: SourceUserPermissions,
		},
		{
			name:       "user permission array grants",
			snapshot:   Snapshot{Permissions: raw(`["events:write"]`)},
			perm:       "events:write",
			wantAllow:  true,
			wantSource: SourceUserPermissions,
		},
		{
			name:       "user admin entry is not a wildcard",
			snapshot:   Snapshot{Permissions: raw(`{"admin":true}`)},
			perm:       "events:write",
			wantAllow:  false,
			wantSource: SourceNone,
		},
		{
			name:       "malformed blobs grant nothing",
			snapshot:   Snapshot{RolePermissions: []json.RawMessage{raw(`"*"`), raw(`{bad`)}, Permissions: raw(`42`)},
			perm:       "projects:read",
			wantAllow:  false,
			wantSource: SourceNone,
		},
		{
			name:       "empty snapshot denies",
			snapshot:   Snapshot{},
			perm:       "projects:read",
			wantAllow:  false,
			wantSource: SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.snapshot, tt.perm)
			if got.Allowed != tt.wantAllow || got.Source != tt.wantSource {
				t.Errorf("Resolve() = %+v, want {Allowed:%v Source:%s}", got, tt.wantAllow, tt.wantSource)
			}
			if Can(tt.snapshot, tt.perm) != tt.wantAllow {
				t.Errorf("Can() disagrees with Resolve()")
			}
		})
	}
}

func TestNewSnapshot(t *testing.T) {
	u := models.NewUser("a@example.com")
	u.Role = models.UserRoleDeveloper
	roles := []*models.Role{
		{Name: "DEVELOPER", Permissions: json.RawMessage(`["projects:write"]`)},
		{Name: "billing", Permissions: json.RawMessage(`{"billing:read":true}`)},
	}

	s := NewSnapshot(u, roles)
	if len(s.RolePermissions) != 2 || s.Role != models.UserRoleDeveloper || s.IsSuperuser {
		t.Fatalf("snapshot = %+v", s)
	}
	if !Can(s, "billing:read") || Can(s, "users:write") {
		t.Error("snapshot did not carry role permissions")
	}
}

func TestSystemRolesResolve(t *testing.T) {
	for _, r := range models.SystemRoles() {
		r := r
		s := Snapshot{RolePermissions: []json.RawMessage{r.Permissions}}
		if !Can(s, "projects:read") {
			t.Errorf("system role %s should grant projects:read", r.Name)
		}
		if r.Name == "ADMIN" && !Can(s, "users:write") {
			t.Error("ADMIN system role should grant everything")
		}
		if r.Name == "GUEST" && Can(s, "projects:write") {
			t.Error("GUEST system role must not grant projects:write")
		}
	}
}
