package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/ainative/accounts/internal/auth"
	"github.com/ainative/accounts/internal/config"
	"github.com/ainative/accounts/internal/db/models"
	"github.com/ainative/accounts/internal/db/repositories"
	"github.com/ainative/accounts/internal/services"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

func newUserService(cfg *config.Config, database *sqlx.DB) *services.UserService {
	return services.NewUserService(
		repositories.NewUserRepository(database),
		repositories.NewRoleRepository(database),
		auth.NewPasswordHasher(cfg.Auth.Passwords.BcryptCost),
		cfg.Auth.Passwords.ResetTokenTTL,
	)
}

// withUsers runs fn against a UserService bound to a fresh connection.
func withUsers(ctx context.Context, fn func(*services.UserService) error) error {
	cfg, database, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(newUserService(cfg, database))
}

var (
	userPassword string
	userUsername string
	userFullName string
)

var createUserCmd = &cobra.Command{
	Use:   "create [email]",
	Short: "Register a new user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUsers(cmd.Context(), func(svc *services.UserService) error {
			u, err := svc.Register(cmd.Context(), services.RegisterInput{
				Email:    args[0],
				Password: userPassword,
				Username: optionalFlag(userUsername),
				FullName: optionalFlag(userFullName),
			})
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			fmt.Printf("User created: %s (ID: %s)\n", u.Email, u.ID)
			return nil
		})
	},
}

var setUserStatusCmd = &cobra.Command{
	Use:   "set-status [id] [ACTIVE|INACTIVE|SUSPENDED|PENDING]",
	Short: "Move a user to another lifecycle status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUsers(cmd.Context(), func(svc *services.UserService) error {
			u, err := svc.SetStatus(cmd.Context(), args[0], models.UserStatus(args[1]))
			if err != nil {
				return fmt.Errorf("failed to set status: %w", err)
			}
			fmt.Printf("User %s is now %s\n", u.ID, u.Status)
			return nil
		})
	},
}

var assignRoleCmd = &cobra.Command{
	Use:   "assign-role [id] [role]",
	Short: "Add a role to a user's role set",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUsers(cmd.Context(), func(svc *services.UserService) error {
			if err := svc.AssignRole(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("failed to assign role: %w", err)
			}
			fmt.Printf("Role %s assigned to %s\n", args[1], args[0])
			return nil
		})
	},
}

var unassignRoleCmd = &cobra.Command{
	Use:   "unassign-role [id] [role]",
	Short: "Remove a role from a user's role set",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUsers(cmd.Context(), func(svc *services.UserService) error {
			if err := svc.UnassignRole(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("failed to unassign role: %w", err)
			}
			fmt.Printf("Role %s removed from %s\n", args[1], args[0])
			return nil
		})
	},
}

var authorizeUserCmd = &cobra.Command{
	Use:   "authorize [id] [permission]",
	Short: "Explain whether a user holds a permission",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUsers(cmd.Context(), func(svc *services.UserService) error {
			d, err := svc.Authorize(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("allowed=%v source=%s\n", d.Allowed, d.Source)
			return nil
		})
	},
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password [email]",
	Short: "Issue a password reset token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUsers(cmd.Context(), func(svc *services.UserService) error {
			token, err := svc.IssuePasswordReset(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to issue reset token: %w", err)
			}
			fmt.Printf("Reset token (shown once): %s\n", token)
			return nil
		})
	},
}

var deleteUserCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a user, their API keys and memberships; owned projects are orphaned",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, database, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer database.Close()

		report, err := services.NewAccountService(database).DeleteUser(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		fmt.Printf("User deleted: %s (api keys: %d, memberships: %d, roles: %d, shares: %d, orphaned projects: %d)\n",
			args[0], report.APIKeys, report.Memberships, report.RoleAssignments, report.ProjectShares, report.OrphanedProjects)
		return nil
	},
}

func optionalFlag(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func init() {
	createUserCmd.Flags().StringVar(&userPassword, "password", "", "initial password (omit for OAuth-only accounts)")
	createUserCmd.Flags().StringVar(&userUsername, "username", "", "display username")
	createUserCmd.Flags().StringVar(&userFullName, "full-name", "", "full name")

	userCmd.AddCommand(createUserCmd, setUserStatusCmd, assignRoleCmd, unassignRoleCmd,
		authorizeUserCmd, resetPasswordCmd, deleteUserCmd)
	rootCmd.AddCommand(userCmd)
}
