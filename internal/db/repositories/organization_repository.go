// organization_repository.go implements OrganizationRepository, providing database queries
// for organization CRUD and the user_organizations membership table.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ainative/accounts/internal/db/models"
)

// OrganizationRepository handles database operations for organizations
type OrganizationRepository struct {
	db DBTX
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db DBTX) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// WithTx returns a copy of the repository that runs its queries inside tx.
func (r *OrganizationRepository) WithTx(tx *sqlx.Tx) *OrganizationRepository {
	return &OrganizationRepository{db: tx}
}

func (r *OrganizationRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.Organization, error) {
	query := `SELECT id, name, display_name, created_at, updated_at FROM organizations WHERE ` + where + ` = $1`

	org := &models.Organization{}
	err := r.db.QueryRowxContext(ctx, query, arg).Scan(&org.ID, &org.Name, &org.DisplayName, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	return r.getOne(ctx, "id", id)
}

// GetByName retrieves an organization by its unique name
func (r *OrganizationRepository) GetByName(ctx context.Context, name string) (*models.Organization, error) {
	return r.getOne(ctx, "name", name)
}

// Create inserts a new organization
func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now

	query := `
		INSERT INTO organizations (id, name, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, org.ID, org.Name, org.DisplayName, org.CreatedAt, org.UpdatedAt)
	return mapError(err)
}

// Update writes the name and display name of an organization
func (r *OrganizationRepository) Update(ctx context.Context, org *models.Organization) error {
	org.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx,
		`UPDATE organizations SET name = $2, display_name = $3, updated_at = $4 WHERE id = $1`,
		org.ID, org.Name, org.DisplayName, org.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

// Delete removes an organization. Memberships are dropped and its projects
// are detached (organization_id set to NULL) by the schema.
func (r *OrganizationRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// List returns organizations ordered by name with pagination, and the total count.
func (r *OrganizationRepository) List(ctx context.Context, limit, offset int) ([]*models.Organization, int, error) {
	var total int
	if err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, name, display_name, created_at, updated_at FROM organizations ORDER BY name LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orgs, err := scanOrganizations(rows)
	if err != nil {
		return nil, 0, err
	}
	return orgs, total, nil
}

// ListUserOrganizations returns the organizations a user belongs to
func (r *OrganizationRepository) ListUserOrganizations(ctx context.Context, userID string) ([]*models.Organization, error) {
	query := `
		SELECT o.id, o.name, o.display_name, o.created_at, o.updated_at
		FROM organizations o
		JOIN user_organizations uo ON uo.organization_id = o.id
		WHERE uo.user_id = $1
		ORDER BY o.name
	`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrganizations(rows)
}

func scanOrganizations(rows *sqlx.Rows) ([]*models.Organization, error) {
	orgs := make([]*models.Organization, 0)
	for rows.Next() {
		org := &models.Organization{}
		if err := rows.Scan(&org.ID, &org.Name, &org.DisplayName, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// AddMember adds a user to an organization; re-adding refreshes updated_at.
func (r *OrganizationRepository) AddMember(ctx context.Context, organizationID, userID string) error {
	query := `
		INSERT INTO user_organizations (user_id, organization_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id, organization_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, userID, organizationID, time.Now().UTC())
	return mapError(err)
}

// RemoveMember removes a user from an organization
func (r *OrganizationRepository) RemoveMember(ctx context.Context, organizationID, userID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_organizations WHERE user_id = $1 AND organization_id = $2`, userID, organizationID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// RemoveUserMemberships deletes every organization membership of a user
func (r *OrganizationRepository) RemoveUserMemberships(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_organizations WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
