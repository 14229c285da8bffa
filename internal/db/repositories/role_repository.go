// role_repository.go implements RoleRepository, providing database queries for role CRUD,
// system role seeding and the user_roles assignments between users and roles.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ainative/accounts/internal/db/models"
)

const roleColumns = `id, name, description, permissions, is_system_role, created_at, updated_at`

// RoleRepository handles database operations for roles and role assignments
type RoleRepository struct {
	db DBTX
}

// NewRoleRepository creates a new RoleRepository
func NewRoleRepository(db DBTX) *RoleRepository {
	return &RoleRepository{db: db}
}

// WithTx returns a copy of the repository that runs its queries inside tx.
func (r *RoleRepository) WithTx(tx *sqlx.Tx) *RoleRepository {
	return &RoleRepository{db: tx}
}

func scanRole(row rowScanner) (*models.Role, error) {
	role := &models.Role{}
	var permissionsJSON []byte
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &permissionsJSON, &role.IsSystemRole, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	role.Permissions = rawJSON(permissionsJSON)
	return role, nil
}

// ============================================================================
// Roles
// ============================================================================

// CreateRole inserts a role. A duplicate name yields ErrDuplicateKey.
func (r *RoleRepository) CreateRole(ctx context.Context, role *models.Role) error {
	if role.ID == "" {
		role.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	query := `INSERT INTO roles (id, name, description, permissions, is_system_role, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		role.ID, role.Name, role.Description, jsonOrDefault(role.Permissions, `[]`), role.IsSystemRole, role.CreatedAt, role.UpdatedAt)
	return mapError(err)
}

// GetRole retrieves a role by ID
func (r *RoleRepository) GetRole(ctx context.Context, id string) (*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`
	role, err := scanRole(r.db.QueryRowxContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return role, nil
}

// GetRoleByName retrieves a role by its unique name
func (r *RoleRepository) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`
	role, err := scanRole(r.db.QueryRowxContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles returns all roles ordered by name
func (r *RoleRepository) ListRoles(ctx context.Context) ([]*models.Role, error) {
	return r.queryRoles(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
}

// UpdateRole writes the description and permissions of a role. System roles
// keep their name, so the name column is only written for custom roles.
func (r *RoleRepository) UpdateRole(ctx context.Context, role *models.Role) error {
	role.UpdatedAt = time.Now().UTC()

	query := `UPDATE roles
			  SET name = CASE WHEN is_system_role THEN name ELSE $2 END,
			      description = $3, permissions = $4, updated_at = $5
			  WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		role.ID, role.Name, role.Description, jsonOrDefault(role.Permissions, `[]`), role.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

// DeleteRole removes a custom role. Its user_roles rows go with it; the users
// themselves are untouched. System roles are never deleted and yield ErrNotFound.
func (r *RoleRepository) DeleteRole(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1 AND NOT is_system_role`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// EnsureSystemRoles upserts the given system roles by name.
func (r *RoleRepository) EnsureSystemRoles(ctx context.Context, roles []models.Role) error {
	query := `INSERT INTO roles (id, name, description, permissions, is_system_role, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, TRUE, $5, $5)
			  ON CONFLICT (name) DO UPDATE
			  SET description = EXCLUDED.description, permissions = EXCLUDED.permissions,
			      is_system_role = TRUE, updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	for _, role := range roles {
		if _, err := r.db.ExecContext(ctx, query,
			uuid.New().String(), role.Name, role.Description, jsonOrDefault(role.Permissions, `[]`), now); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Assignments
// ============================================================================

// AssignRole adds a user to a role. Assigning twice is a no-op apart from updated_at.
func (r *RoleRepository) AssignRole(ctx context.Context, userID, roleID string) error {
	query := `INSERT INTO user_roles (user_id, role_id, created_at, updated_at)
			  VALUES ($1, $2, $3, $3)
			  ON CONFLICT (user_id, role_id) DO UPDATE SET updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, userID, roleID, time.Now().UTC())
	return mapError(err)
}

// UnassignRole removes a user from a role
func (r *RoleRepository) UnassignRole(ctx context.Context, userID, roleID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListRolesForUser returns the roles assigned to a user
func (r *RoleRepository) ListRolesForUser(ctx context.Context, userID string) ([]*models.Role, error) {
	query := `SELECT ` + prefixed("r", roleColumns) + `
			  FROM roles r
			  JOIN user_roles ur ON ur.role_id = r.id
			  WHERE ur.user_id = $1
			  ORDER BY r.name`
	return r.queryRoles(ctx, query, userID)
}

// RemoveUserAssignments deletes every role assignment of a user
func (r *RoleRepository) RemoveUserAssignments(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *RoleRepository) queryRoles(ctx context.Context, query string, args ...interface{}) ([]*models.Role, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make([]*models.Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
