package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ainative/accounts/internal/db"
	"github.com/ainative/accounts/internal/db/models"
	"github.com/ainative/accounts/internal/db/repositories"
)

// ProjectService handles project lifecycle, sharing and quota checks
type ProjectService struct {
	db       *sqlx.DB
	projects *repositories.ProjectRepository
	users    *repositories.UserRepository
	now      func() time.Time
}

// NewProjectService creates a new ProjectService
func NewProjectService(database *sqlx.DB) *ProjectService {
	return &ProjectService{
		db:       database,
		projects: repositories.NewProjectRepository(database),
		users:    repositories.NewUserRepository(database),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new project. When the project has an owner, the owner's
// project count is checked against the max_projects limit of the project's tier.
// The owner row is locked for the count and the insert, so concurrent creates
// for one owner are serialized.
func (s *ProjectService) Create(ctx context.Context, p *models.Project) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return errors.New("project name is required")
	}
	if p.Tier == "" {
		p.Tier = models.TierFree
	}
	if !models.KnownTier(p.Tier) {
		return fmt.Errorf("%w: %q", ErrUnknownTier, p.Tier)
	}

	if p.UserID == nil {
		return s.insert(ctx, s.projects, p)
	}

	return db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.users.WithTx(tx).LockUser(ctx, *p.UserID); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to lock owner: %w", err)
		}

		projects := s.projects.WithTx(tx)
		owned, err := projects.CountOwnedProjects(ctx, *p.UserID)
		if err != nil {
			return fmt.Errorf("failed to count projects: %w", err)
		}
		limits := models.LimitsForTier(p.Tier)
		if !limits.AllowsProjects(owned) {
			return fmt.Errorf("%w: %s tier allows %d projects", ErrQuotaExceeded, p.Tier, limits.MaxProjects)
		}
		return s.insert(ctx, projects, p)
	})
}

func (s *ProjectService) insert(ctx context.Context, projects *repositories.ProjectRepository, p *models.Project) error {
	if err := projects.CreateProject(ctx, p); err != nil {
		if errors.Is(err, repositories.ErrForeignKeyViolation) {
			return fmt.Errorf("owner or organization does not exist: %w", err)
		}
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// Get returns a project by ID, including soft-deleted ones.
func (s *ProjectService) Get(ctx context.Context, id string) (*models.Project, error) {
	p, err := s.projects.GetProject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if p == nil {
		return nil, ErrProjectNotFound
	}
	return p, nil
}

// List returns projects matching filter and the total match count.
func (s *ProjectService) List(ctx context.Context, filter repositories.ProjectFilter) ([]*models.Project, int, error) {
	return s.projects.ListProjects(ctx, filter)
}

// ListForUser returns the projects a user owns and those shared with them.
func (s *ProjectService) ListForUser(ctx context.Context, userID string) (owned, shared []*models.Project, err error) {
	owned, err = s.projects.ListOwnedProjects(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	shared, err = s.projects.ListSharedProjects(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return owned, shared, nil
}

// SoftDelete marks a project DELETED. The row and its data are kept.
func (s *ProjectService) SoftDelete(ctx context.Context, id string) (*models.Project, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := p.SoftDelete(now); err != nil {
		return nil, err
	}
	if err := s.projects.SoftDelete(ctx, id, now); err != nil {
		return nil, s.transitionError(id, err)
	}
	return p, nil
}

// Restore brings a soft-deleted project back to ACTIVE.
func (s *ProjectService) Restore(ctx context.Context, id string) (*models.Project, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.Restore(); err != nil {
		return nil, err
	}
	if err := s.projects.Restore(ctx, id); err != nil {
		return nil, s.transitionError(id, err)
	}
	return p, nil
}

// Suspend moves an ACTIVE project to SUSPENDED.
func (s *ProjectService) Suspend(ctx context.Context, id string) (*models.Project, error) {
	return s.setStatus(ctx, id, models.ProjectStatusSuspended)
}

// Resume moves a SUSPENDED project back to ACTIVE.
func (s *ProjectService) Resume(ctx context.Context, id string) (*models.Project, error) {
	return s.setStatus(ctx, id, models.ProjectStatusActive)
}

func (s *ProjectService) setStatus(ctx context.Context, id string, next models.ProjectStatus) (*models.Project, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := p.Status
	if err := p.SetStatus(next); err != nil {
		return nil, err
	}
	if err := s.projects.UpdateStatus(ctx, id, from, next); err != nil {
		return nil, s.transitionError(id, err)
	}
	return p, nil
}

// transitionError reports a conditional lifecycle UPDATE that matched no row:
// another writer moved the project first.
func (s *ProjectService) transitionError(id string, err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("project %s changed concurrently: %w", id, models.ErrInvalidTransition)
	}
	return fmt.Errorf("failed to update project: %w", err)
}

// AdjustUsage applies signed counter changes and returns the new usage along
// with the names of any tier limits it now exceeds. Exceeding a limit is
// reported, not refused.
func (s *ProjectService) AdjustUsage(ctx context.Context, id string, delta repositories.UsageDelta) (*models.ProjectUsage, []string, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	usage, err := s.projects.AdjustUsage(ctx, id, delta)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to adjust usage: %w", err)
	}
	return usage, p.Limits().Exceeded(*usage), nil
}

// CheckQuota returns the names of the tier limits a project currently exceeds.
func (s *ProjectService) CheckQuota(ctx context.Context, id string) ([]string, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Limits().Exceeded(p.Usage()), nil
}

// Share gives a user access to a project they do not own.
func (s *ProjectService) Share(ctx context.Context, projectID, userID string) error {
	if err := s.projects.ShareProject(ctx, projectID, userID); err != nil {
		if errors.Is(err, repositories.ErrForeignKeyViolation) {
			return fmt.Errorf("project or user does not exist: %w", err)
		}
		return err
	}
	return nil
}

// Unshare removes a user's shared access to a project.
func (s *ProjectService) Unshare(ctx context.Context, projectID, userID string) error {
	return s.projects.UnshareProject(ctx, projectID, userID)
}
