// user_repository.go implements UserRepository, providing database queries for user
// registration, lookup by id/email/GitHub id, status changes, login bookkeeping and
// password reset tokens.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ainative/accounts/internal/db/models"
)

const userColumns = `id, email, username, full_name, hashed_password, github_id, is_active, status,
	is_superuser, email_verified, role, permissions, last_login_at, password_reset_token,
	password_reset_expires, created_at, updated_at`

// UserRepository handles user database operations
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a copy of the repository that runs its queries inside tx.
func (r *UserRepository) WithTx(tx *sqlx.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var permissionsJSON []byte
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.FullName,
		&u.HashedPassword,
		&u.GitHubID,
		&u.IsActive,
		&u.Status,
		&u.IsSuperuser,
		&u.EmailVerified,
		&u.Role,
		&permissionsJSON,
		&u.LastLoginAt,
		&u.PasswordResetToken,
		&u.PasswordResetExpires,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Permissions = rawJSON(permissionsJSON)
	return u, nil
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where + ` = $1`
	user, err := scanUser(r.db.QueryRowxContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser inserts a new user. A duplicate email yields ErrDuplicateKey.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Status == "" {
		user.Status = models.UserStatusActive
	}
	if user.Role == "" {
		user.Role = models.UserRoleUser
	}
	user.IsActive = user.Status == models.UserStatusActive

	query := `
		INSERT INTO users (id, email, username, full_name, hashed_password, github_id, is_active, status,
			is_superuser, email_verified, role, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Username,
		user.FullName,
		user.HashedPassword,
		user.GitHubID,
		user.IsActive,
		user.Status,
		user.IsSuperuser,
		user.EmailVerified,
		user.Role,
		jsonOrDefault(user.Permissions, `{}`),
		user.CreatedAt,
		user.UpdatedAt,
	)
	return mapError(err)
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, "id", id)
}

// GetUserByEmail retrieves a user by email address
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email", email)
}

// GetUserByGitHubID retrieves a user by their GitHub account id
func (r *UserRepository) GetUserByGitHubID(ctx context.Context, githubID string) (*models.User, error) {
	return r.getOne(ctx, "github_id", githubID)
}

// LockUser takes a row lock on the user until the surrounding transaction
// ends. It must be called on a repository bound with WithTx.
func (r *UserRepository) LockUser(ctx context.Context, id string) error {
	var one int
	err := r.db.QueryRowxContext(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

// UpdateUser writes the profile and authorization fields of user. Status and
// password have their own methods.
func (r *UserRepository) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET email = $2, username = $3, full_name = $4, github_id = $5, is_superuser = $6,
			email_verified = $7, role = $8, permissions = $9, updated_at = $10
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Username,
		user.FullName,
		user.GitHubID,
		user.IsSuperuser,
		user.EmailVerified,
		user.Role,
		jsonOrDefault(user.Permissions, `{}`),
		user.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}

// UpdateStatus moves a user from one status to another in a single statement,
// writing is_active alongside it. ErrNotFound means the user is gone or its
// status no longer equals from.
func (r *UserRepository) UpdateStatus(ctx context.Context, id string, from, to models.UserStatus) error {
	query := `
		UPDATE users
		SET status = $3, is_active = $4, updated_at = $5
		WHERE id = $1 AND status = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, from, to, to == models.UserStatusActive, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// RecordLogin stamps last_login_at
func (r *UserRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// UpdatePassword stores a new password hash and discards any pending reset token.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, hashedPassword string) error {
	query := `
		UPDATE users
		SET hashed_password = $2, password_reset_token = NULL, password_reset_expires = NULL, updated_at = $3
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, hashedPassword, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SetPasswordReset stores the digest of a reset token and its expiry.
func (r *UserRepository) SetPasswordReset(ctx context.Context, id, tokenHash string, expires time.Time) error {
	query := `
		UPDATE users
		SET password_reset_token = $2, password_reset_expires = $3, updated_at = $4
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, tokenHash, expires, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ConsumePasswordReset swaps in a new password hash for the user holding an
// unexpired token with the given digest, clearing the token in the same
// statement so it cannot be used twice. Returns the user id.
func (r *UserRepository) ConsumePasswordReset(ctx context.Context, tokenHash, hashedPassword string, now time.Time) (string, error) {
	query := `
		UPDATE users
		SET hashed_password = $2, password_reset_token = NULL, password_reset_expires = NULL, updated_at = $3
		WHERE password_reset_token = $1 AND password_reset_expires >= $3
		RETURNING id
	`
	var id string
	err := r.db.QueryRowxContext(ctx, query, tokenHash, hashedPassword, now).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListUsers returns users ordered by email with pagination, and the total count.
func (r *UserRepository) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	var total int
	if err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY email LIMIT $1 OFFSET $2`
	users, err := r.queryUsers(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// ListUsersInOrganization returns the members of an organization
func (r *UserRepository) ListUsersInOrganization(ctx context.Context, organizationID string) ([]*models.User, error) {
	query := `
		SELECT ` + prefixed("u", userColumns) + `
		FROM users u
		JOIN user_organizations uo ON uo.user_id = u.id
		WHERE uo.organization_id = $1
		ORDER BY u.email
	`
	return r.queryUsers(ctx, query, organizationID)
}

// ListUsersWithRole returns the users assigned to a role
func (r *UserRepository) ListUsersWithRole(ctx context.Context, roleID string) ([]*models.User, error) {
	query := `
		SELECT ` + prefixed("u", userColumns) + `
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		WHERE ur.role_id = $1
		ORDER BY u.email
	`
	return r.queryUsers(ctx, query, roleID)
}

func (r *UserRepository) queryUsers(ctx context.Context, query string, args ...interface{}) ([]*models.User, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser physically removes a user row. Callers delete the user's API keys
// first; see services.AccountService.DeleteUser.
func (r *UserRepository) DeleteUser(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res)
}
