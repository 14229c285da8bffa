package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ainative/accounts/internal/auth"
	"github.com/ainative/accounts/internal/db/models"
	"github.com/ainative/accounts/internal/db/repositories"
)

// RegisterInput holds the fields a new account is created with
type RegisterInput struct {
	Email    string
	Password string // empty for accounts that only sign in through GitHub
	Username *string
	FullName *string
	GitHubID *string
}

// UserService handles registration, login, status changes, password resets and authorization
type UserService struct {
	users    *repositories.UserRepository
	roles    *repositories.RoleRepository
	hasher   *auth.PasswordHasher
	resetTTL time.Duration
	now      func() time.Time
}

// NewUserService creates a new UserService
func NewUserService(users *repositories.UserRepository, roles *repositories.RoleRepository, hasher *auth.PasswordHasher, resetTTL time.Duration) *UserService {
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}
	return &UserService{
		users:    users,
		roles:    roles,
		hasher:   hasher,
		resetTTL: resetTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an ACTIVE account with the USER role.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email address %q", in.Email)
	}

	user := models.NewUser(email)
	user.Username = in.Username
	user.FullName = in.FullName
	user.GitHubID = in.GitHubID
	if in.Password != "" {
		hashed, err := s.hasher.Hash(in.Password)
		if err != nil {
			return nil, err
		}
		user.HashedPassword = &hashed
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Authenticate checks an email and password and stamps the login time.
// Unknown emails and wrong passwords both return ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || user.HashedPassword == nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Check(*user.HashedPassword, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	now := s.now()
	if err := s.users.RecordLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	user.LastLoginAt = &now
	return user, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// SetStatus moves a user along its lifecycle. The write only succeeds if the
// stored status is still the one the transition was checked against.
func (s *UserService) SetStatus(ctx context.Context, id string, next models.UserStatus) (*models.User, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("unknown user status %q", next)
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := user.Status
	if err := user.SetStatus(next); err != nil {
		return nil, err
	}
	if err := s.users.UpdateStatus(ctx, id, from, next); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("user %s changed concurrently: %w", id, models.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("failed to update user status: %w", err)
	}
	return user, nil
}

// IssuePasswordReset stores a fresh reset token for the account and returns
// the plaintext token for delivery to the user.
func (s *UserService) IssuePasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return "", ErrUserNotFound
	}

	token, hash, err := auth.GenerateResetToken()
	if err != nil {
		return "", err
	}
	if err := s.users.SetPasswordReset(ctx, user.ID, hash, s.now().Add(s.resetTTL)); err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}
	return token, nil
}

// ResetPassword consumes a reset token and sets a new password. It returns the
// ID of the user whose password changed.
func (s *UserService) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	if token == "" {
		return "", ErrInvalidResetToken
	}
	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return "", err
	}

	id, err := s.users.ConsumePasswordReset(ctx, auth.HashAPIKey(token), hashed, s.now())
	if errors.Is(err, repositories.ErrNotFound) {
		return "", ErrInvalidResetToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to reset password: %w", err)
	}
	return id, nil
}

// Authorize resolves perm for a user against their assigned roles, legacy role
// and own grants.
func (s *UserService) Authorize(ctx context.Context, userID, perm string) (auth.Decision, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return auth.Decision{}, err
	}
	roles, err := s.roles.ListRolesForUser(ctx, userID)
	if err != nil {
		return auth.Decision{}, fmt.Errorf("failed to load roles: %w", err)
	}
	return auth.Resolve(auth.NewSnapshot(user, roles), perm), nil
}

// AssignRole adds a user to the role with the given name.
func (s *UserService) AssignRole(ctx context.Context, userID, roleName string) error {
	role, err := s.roleByName(ctx, roleName)
	if err != nil {
		return err
	}
	if err := s.roles.AssignRole(ctx, userID, role.ID); err != nil {
		if errors.Is(err, repositories.ErrForeignKeyViolation) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// UnassignRole removes a user from the role with the given name.
func (s *UserService) UnassignRole(ctx context.Context, userID, roleName string) error {
	role, err := s.roleByName(ctx, roleName)
	if err != nil {
		return err
	}
	if err := s.roles.UnassignRole(ctx, userID, role.ID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("user %s does not hold role %s: %w", userID, roleName, repositories.ErrNotFound)
		}
		return err
	}
	return nil
}

func (s *UserService) roleByName(ctx context.Context, name string) (*models.Role, error) {
	role, err := s.roles.GetRoleByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	if role == nil {
		return nil, ErrRoleNotFound
	}
	return role, nil
}
