package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/ainative/accounts/internal/db"
	"github.com/ainative/accounts/internal/db/repositories"
)

// DeletionReport counts the rows removed or detached when a user is deleted
type DeletionReport struct {
	APIKeys          int64
	Memberships      int64
	RoleAssignments  int64
	ProjectShares    int64
	OrphanedProjects int64
}

// AccountService removes users together with everything that references them
type AccountService struct {
	db       *sqlx.DB
	users    *repositories.UserRepository
	apiKeys  *repositories.APIKeyRepository
	orgs     *repositories.OrganizationRepository
	roles    *repositories.RoleRepository
	projects *repositories.ProjectRepository
}

// NewAccountService creates a new AccountService
func NewAccountService(database *sqlx.DB) *AccountService {
	return &AccountService{
		db:       database,
		users:    repositories.NewUserRepository(database),
		apiKeys:  repositories.NewAPIKeyRepository(database),
		orgs:     repositories.NewOrganizationRepository(database),
		roles:    repositories.NewRoleRepository(database),
		projects: repositories.NewProjectRepository(database),
	}
}

// DeleteUser removes a user in one transaction. API keys are deleted (their
// activity logs go with them), organization memberships, role assignments and
// project shares are removed, and owned projects are kept with no owner.
// Nothing is changed if any step fails.
func (s *AccountService) DeleteUser(ctx context.Context, userID string) (*DeletionReport, error) {
	report := &DeletionReport{}

	err := db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		if report.APIKeys, err = s.apiKeys.WithTx(tx).DeleteUserAPIKeys(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete api keys: %w", err)
		}
		if report.Memberships, err = s.orgs.WithTx(tx).RemoveUserMemberships(ctx, userID); err != nil {
			return fmt.Errorf("failed to remove organization memberships: %w", err)
		}
		if report.RoleAssignments, err = s.roles.WithTx(tx).RemoveUserAssignments(ctx, userID); err != nil {
			return fmt.Errorf("failed to remove role assignments: %w", err)
		}

		projects := s.projects.WithTx(tx)
		if report.ProjectShares, err = projects.RemoveUserShares(ctx, userID); err != nil {
			return fmt.Errorf("failed to remove project shares: %w", err)
		}
		if report.OrphanedProjects, err = projects.OrphanUserProjects(ctx, userID); err != nil {
			return fmt.Errorf("failed to orphan projects: %w", err)
		}

		if err := s.users.WithTx(tx).DeleteUser(ctx, userID); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("user deleted",
		"user_id", userID,
		"api_keys", report.APIKeys,
		"memberships", report.Memberships,
		"role_assignments", report.RoleAssignments,
		"project_shares", report.ProjectShares,
		"orphaned_projects", report.OrphanedProjects,
	)
	return report, nil
}
