// project_repository.go implements ProjectRepository, providing database queries for project
// CRUD, filtered listing, sharing through user_projects, single-statement soft delete and
// restore, and atomic usage counter adjustments.
package repositories

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ainative/accounts/internal/db/models"
)

const projectColumns = `id, name, description, user_id, organization_id, status, tier, database_enabled,
	vector_dimensions, quantum_enabled, mcp_enabled, database_config, railway_project_id, qdrant_url,
	minio_url, redpanda_url, vectors_count, tables_count, events_count, memory_usage_mb,
	storage_usage_mb, created_at, updated_at, deleted_at`

// ProjectRepository handles project database operations
type ProjectRepository struct {
	db DBTX
}

// NewProjectRepository creates a new ProjectRepository
func NewProjectRepository(db DBTX) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// WithTx returns a copy of the repository that runs its queries inside tx.
func (r *ProjectRepository) WithTx(tx *sqlx.Tx) *ProjectRepository {
	return &ProjectRepository{db: tx}
}

// ProjectFilter narrows ListProjects. Zero values mean "any".
type ProjectFilter struct {
	OwnerID        string
	OrganizationID string
	Status         models.ProjectStatus
	Tier           models.Tier
	IncludeDeleted bool
	Limit          uint64
	Offset         uint64
}

// UsageDelta holds signed changes to a project's counters.
type UsageDelta struct {
	Vectors       int64
	Tables        int64
	Events        int64
	MemoryUsageMB float64
	StorageMB     float64
}

func scanProject(row rowScanner) (*models.Project, error) {
	p := &models.Project{}
	var configJSON []byte
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.UserID,
		&p.OrganizationID,
		&p.Status,
		&p.Tier,
		&p.DatabaseEnabled,
		&p.VectorDimensions,
		&p.QuantumEnabled,
		&p.MCPEnabled,
		&configJSON,
		&p.RailwayProjectID,
		&p.QdrantURL,
		&p.MinioURL,
		&p.RedpandaURL,
		&p.VectorsCount,
		&p.TablesCount,
		&p.EventsCount,
		&p.MemoryUsageMB,
		&p.StorageUsageMB,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	p.DatabaseConfig = rawJSON(configJSON)
	return p, nil
}

// CreateProject inserts a new project
func (r *ProjectRepository) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = models.ProjectStatusActive
	}
	if p.Tier == "" {
		p.Tier = models.TierFree
	}
	if p.VectorDimensions == 0 {
		p.VectorDimensions = models.DefaultVectorDimensions
	}

	query := `
		INSERT INTO projects (id, name, description, user_id, organization_id, status, tier, database_enabled,
			vector_dimensions, quantum_enabled, mcp_enabled, database_config, railway_project_id, qdrant_url,
			minio_url, redpanda_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.Description,
		p.UserID,
		p.OrganizationID,
		p.Status,
		p.Tier,
		p.DatabaseEnabled,
		p.VectorDimensions,
		p.QuantumEnabled,
		p.MCPEnabled,
		jsonOrDefault(p.DatabaseConfig, `{}`),
		p.RailwayProjectID,
		p.QdrantURL,
		p.MinioURL,
		p.RedpandaURL,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return mapError(err)
}

// GetProject retrieves a project by ID, including soft-deleted ones
func (r *ProjectRepository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	p, err := scanProject(r.db.QueryRowxContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProject writes the descriptive, ownership and feature fields of a
// project. Status, deleted_at and usage counters are changed through their own methods.
func (r *ProjectRepository) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now().UTC()

	stmt := psql.Update("projects").
		SetMap(map[string]interface{}{
			"name":               p.Name,
			"description":        p.Description,
			"user_id":            p.UserID,
			"organization_id":    p.OrganizationID,
			"tier":               p.Tier,
			"database_enabled":   p.DatabaseEnabled,
			"vector_dimensions":  p.VectorDimensions,
			"quantum_enabled":    p.QuantumEnabled,
			"mcp_enabled":        p.MCPEnabled,
			"database_config":    jsonOrDefault(p.DatabaseConfig, `{}`),
			"railway_project_id": p.RailwayProjectID,
			"qdrant_url":         p.QdrantURL,
			"minio_url":          p.MinioURL,
			"redpanda_url":       p.RedpandaURL,
			"updated_at":         p.UpdatedAt,
		}).
		Where(sq.Eq{"id": p.ID})

	query, args, err := stmt.ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

// ListProjects returns projects matching filter, newest first, and the total count.
func (r *ProjectRepository) ListProjects(ctx context.Context, filter ProjectFilter) ([]*models.Project, int, error) {
	where := sq.And{}
	if filter.OwnerID != "" {
		where = append(where, sq.Eq{"user_id": filter.OwnerID})
	}
	if filter.OrganizationID != "" {
		where = append(where, sq.Eq{"organization_id": filter.OrganizationID})
	}
	if filter.Status != "" {
		where = append(where, sq.Eq{"status": filter.Status})
	}
	if filter.Tier != "" {
		where = append(where, sq.Eq{"tier": filter.Tier})
	}
	if !filter.IncludeDeleted {
		where = append(where, sq.Eq{"deleted_at": nil})
	}

	count := psql.Select("COUNT(*)").From("projects")
	sel := psql.Select(projectColumns).From("projects")
	if len(where) > 0 {
		count = count.Where(where)
		sel = sel.Where(where)
	}

	countQuery, countArgs, err := count.ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.db.QueryRowxContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sel = sel.OrderBy("created_at DESC")
	if filter.Limit > 0 {
		sel = sel.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sel = sel.Offset(filter.Offset)
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, 0, err
	}

	projects, err := r.queryProjects(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return projects, total, nil
}

// ListOwnedProjects returns the live projects owned by a user
func (r *ProjectRepository) ListOwnedProjects(ctx context.Context, userID string) ([]*models.Project, error) {
	projects, _, err := r.ListProjects(ctx, ProjectFilter{OwnerID: userID})
	return projects, err
}

// ListSharedProjects returns the live projects shared with a user through user_projects
func (r *ProjectRepository) ListSharedProjects(ctx context.Context, userID string) ([]*models.Project, error) {
	query := `
		SELECT ` + prefixed("p", projectColumns) + `
		FROM projects p
		JOIN user_projects up ON up.project_id = p.id
		WHERE up.user_id = $1 AND p.deleted_at IS NULL
		ORDER BY p.created_at DESC
	`
	return r.queryProjects(ctx, query, userID)
}

// CountOwnedProjects counts the projects a user owns that are not soft deleted
func (r *ProjectRepository) CountOwnedProjects(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE user_id = $1 AND deleted_at IS NULL`, userID).Scan(&n)
	return n, err
}

func (r *ProjectRepository) queryProjects(ctx context.Context, query string, args ...interface{}) ([]*models.Project, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]*models.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SoftDelete sets status DELETED and stamps deleted_at in one statement.
// ErrNotFound means the project does not exist or is already deleted.
func (r *ProjectRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE projects
		SET status = $2, deleted_at = $3, updated_at = $3
		WHERE id = $1 AND status <> $2
	`
	res, err := r.db.ExecContext(ctx, query, id, models.ProjectStatusDeleted, at)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Restore sets status ACTIVE and clears deleted_at in one statement.
// ErrNotFound means the project does not exist or is not deleted.
func (r *ProjectRepository) Restore(ctx context.Context, id string) error {
	query := `
		UPDATE projects
		SET status = $2, deleted_at = NULL, updated_at = $4
		WHERE id = $1 AND status = $3
	`
	res, err := r.db.ExecContext(ctx, query, id, models.ProjectStatusActive, models.ProjectStatusDeleted, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// UpdateStatus moves a live project between ACTIVE and SUSPENDED when its
// current status still equals from.
func (r *ProjectRepository) UpdateStatus(ctx context.Context, id string, from, to models.ProjectStatus) error {
	query := `
		UPDATE projects
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// AdjustUsage applies delta to the project's counters in one statement,
// clamping each at zero, and returns the resulting values.
func (r *ProjectRepository) AdjustUsage(ctx context.Context, id string, delta UsageDelta) (*models.ProjectUsage, error) {
	query, args, err := psql.Update("projects").
		Set("vectors_count", sq.Expr("GREATEST(vectors_count + ?, 0)", delta.Vectors)).
		Set("tables_count", sq.Expr("GREATEST(tables_count + ?, 0)", delta.Tables)).
		Set("events_count", sq.Expr("GREATEST(events_count + ?, 0)", delta.Events)).
		Set("memory_usage_mb", sq.Expr("GREATEST(memory_usage_mb + ?, 0)", delta.MemoryUsageMB)).
		Set("storage_usage_mb", sq.Expr("GREATEST(storage_usage_mb + ?, 0)", delta.StorageMB)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING vectors_count, tables_count, events_count, storage_usage_mb").
		ToSql()
	if err != nil {
		return nil, err
	}

	usage := &models.ProjectUsage{}
	err = r.db.QueryRowxContext(ctx, query, args...).Scan(&usage.Vectors, &usage.Tables, &usage.EventsPerMonth, &usage.StorageMB)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return usage, nil
}

// ShareProject grants a user access to a project they do not own
func (r *ProjectRepository) ShareProject(ctx context.Context, projectID, userID string) error {
	query := `
		INSERT INTO user_projects (user_id, project_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id, project_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, userID, projectID, time.Now().UTC())
	return mapError(err)
}

// UnshareProject revokes a user's shared access to a project
func (r *ProjectRepository) UnshareProject(ctx context.Context, projectID, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_projects WHERE user_id = $1 AND project_id = $2`, userID, projectID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// RemoveUserShares deletes every project share of a user
func (r *ProjectRepository) RemoveUserShares(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_projects WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OrphanUserProjects clears the owner of every project owned by a user. The
// projects themselves are kept.
func (r *ProjectRepository) OrphanUserProjects(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE projects SET user_id = NULL, updated_at = $2 WHERE user_id = $1`, userID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
