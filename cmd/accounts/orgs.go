package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/ainative/accounts/internal/db/models"
	"github.com/ainative/accounts/internal/db/repositories"
)

var orgCmd = &cobra.Command{
	Use:   "org",
	Short: "Manage organizations and their members",
}

// withDB runs fn against a fresh connection.
func withDB(ctx context.Context, fn func(*sqlx.DB) error) error {
	_, database, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(database)
}

var orgDisplayName string

var createOrgCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create an organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(database *sqlx.DB) error {
			org := &models.Organization{Name: args[0], DisplayName: orgDisplayName}
			if org.DisplayName == "" {
				org.DisplayName = org.Name
			}
			if err := repositories.NewOrganizationRepository(database).Create(cmd.Context(), org); err != nil {
				return fmt.Errorf("failed to create organization: %w", err)
			}
			fmt.Printf("Organization created: %s (ID: %s)\n", org.Name, org.ID)
			return nil
		})
	},
}

var deleteOrgCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete an organization; its projects are detached, not deleted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(database *sqlx.DB) error {
			if err := repositories.NewOrganizationRepository(database).Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete organization: %w", err)
			}
			fmt.Printf("Organization deleted: %s\n", args[0])
			return nil
		})
	},
}

var addMemberCmd = &cobra.Command{
	Use:   "add-member [org-id] [user-id]",
	Short: "Add a user to an organization",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(database *sqlx.DB) error {
			if err := repositories.NewOrganizationRepository(database).AddMember(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("failed to add member: %w", err)
			}
			fmt.Printf("User %s added to %s\n", args[1], args[0])
			return nil
		})
	},
}

var removeMemberCmd = &cobra.Command{
	Use:   "remove-member [org-id] [user-id]",
	Short: "Remove a user from an organization",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(database *sqlx.DB) error {
			if err := repositories.NewOrganizationRepository(database).RemoveMember(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("failed to remove member: %w", err)
			}
			fmt.Printf("User %s removed from %s\n", args[1], args[0])
			return nil
		})
	},
}

var listMembersCmd = &cobra.Command{
	Use:   "members [org-id]",
	Short: "List the users of an organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(database *sqlx.DB) error {
			users, err := repositories.NewUserRepository(database).ListUsersInOrganization(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to list members: %w", err)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tSTATUS\tROLE")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Status, u.Role)
			}
			return w.Flush()
		})
	},
}

func init() {
	createOrgCmd.Flags().StringVar(&orgDisplayName, "display-name", "", "human readable name (default the name)")

	orgCmd.AddCommand(createOrgCmd, deleteOrgCmd, addMemberCmd, removeMemberCmd, listMembersCmd)
	rootCmd.AddCommand(orgCmd)
}
