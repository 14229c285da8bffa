package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ainative/accounts/internal/db/models"
	"github.com/ainative/accounts/internal/db/repositories"
	"github.com/ainative/accounts/internal/services"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

// withProjects runs fn against a ProjectService bound to a fresh connection.
func withProjects(ctx context.Context, fn func(*services.ProjectService) error) error {
	_, database, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(services.NewProjectService(database))
}

var (
	projectOwner   string
	projectOrg     string
	projectTier    string
	projectStatus  string
	projectDeleted bool

	usageDelta repositories.UsageDelta
)

var createProjectCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a project, enforcing the owner's project quota",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProjects(cmd.Context(), func(svc *services.ProjectService) error {
			p := models.NewProject(args[0])
			p.UserID = optionalFlag(projectOwner)
			p.OrganizationID = optionalFlag(projectOrg)
			if projectTier != "" {
				p.Tier = models.Tier(projectTier)
			}
			if err := svc.Create(cmd.Context(), p); err != nil {
				return fmt.Errorf("failed to create project: %w", err)
			}
			fmt.Printf("Project created: %s (ID: %s, tier: %s)\n", p.Name, p.ID, p.Tier)
			return nil
		})
	},
}

var listProjectsCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProjects(cmd.Context(), func(svc *services.ProjectService) error {
			projects, total, err := svc.List(cmd.Context(), repositories.ProjectFilter{
				OwnerID:        projectOwner,
				OrganizationID: projectOrg,
				Status:         models.ProjectStatus(projectStatus),
				Tier:           models.Tier(projectTier),
				IncludeDeleted: projectDeleted,
			})
			if err != nil {
				return fmt.Errorf("failed to list projects: %w", err)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTIER\tVECTORS\tTABLES")
			for _, p := range projects {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n", p.ID, p.Name, p.Status, p.Tier, p.VectorsCount, p.TablesCount)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("%d of %d projects\n", len(projects), total)
			return nil
		})
	},
}

// lifecycleCmd builds a subcommand that applies one lifecycle transition.
func lifecycleCmd(use, short, done string, apply func(*services.ProjectService, context.Context, string) (*models.Project, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProjects(cmd.Context(), func(svc *services.ProjectService) error {
				p, err := apply(svc, cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to %s project: %w", use, err)
				}
				fmt.Printf("Project %s: %s (status %s)\n", done, p.ID, p.Status)
				return nil
			})
		},
	}
}

var adjustUsageCmd = &cobra.Command{
	Use:   "usage [id]",
	Short: "Apply signed usage deltas and report exceeded tier limits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProjects(cmd.Context(), func(svc *services.ProjectService) error {
			usage, exceeded, err := svc.AdjustUsage(cmd.Context(), args[0], usageDelta)
			if err != nil {
				return err
			}
			fmt.Printf("vectors=%d tables=%d events=%d storage_mb=%.1f\n",
				usage.Vectors, usage.Tables, usage.EventsPerMonth, usage.StorageMB)
			printExceeded(exceeded)
			return nil
		})
	},
}

var quotaCmd = &cobra.Command{
	Use:   "quota [id]",
	Short: "Report the tier limits a project exceeds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProjects(cmd.Context(), func(svc *services.ProjectService) error {
			exceeded, err := svc.CheckQuota(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printExceeded(exceeded)
			return nil
		})
	},
}

var shareProjectCmd = &cobra.Command{
	Use:   "share [project-id] [user-id]",
	Short: "Share a project with a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProjects(cmd.Context(), func(svc *services.ProjectService) error {
			if err := svc.Share(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("failed to share project: %w", err)
			}
			fmt.Printf("Project %s shared with %s\n", args[0], args[1])
			return nil
		})
	},
}

var unshareProjectCmd = &cobra.Command{
	Use:   "unshare [project-id] [user-id]",
	Short: "Revoke a user's shared access to a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProjects(cmd.Context(), func(svc *services.ProjectService) error {
			if err := svc.Unshare(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("failed to unshare project: %w", err)
			}
			fmt.Printf("Project %s no longer shared with %s\n", args[0], args[1])
			return nil
		})
	},
}

var userProjectsCmd = &cobra.Command{
	Use:   "for-user [user-id]",
	Short: "List projects a user owns or has been given access to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProjects(cmd.Context(), func(svc *services.ProjectService) error {
			owned, shared, err := svc.ListForUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tACCESS\tSTATUS")
			for _, p := range owned {
				fmt.Fprintf(w, "%s\t%s\towner\t%s\n", p.ID, p.Name, p.Status)
			}
			for _, p := range shared {
				fmt.Fprintf(w, "%s\t%s\tshared\t%s\n", p.ID, p.Name, p.Status)
			}
			return w.Flush()
		})
	},
}

func printExceeded(exceeded []string) {
	if len(exceeded) == 0 {
		fmt.Println("within tier limits")
		return
	}
	fmt.Printf("exceeds: %s\n", strings.Join(exceeded, ", "))
}

func init() {
	createProjectCmd.Flags().StringVar(&projectOwner, "owner", "", "owning user ID")
	createProjectCmd.Flags().StringVar(&projectOrg, "org", "", "organization ID")
	createProjectCmd.Flags().StringVar(&projectTier, "tier", "", "free, pro, scale or enterprise (default free)")

	listProjectsCmd.Flags().StringVar(&projectOwner, "owner", "", "filter by owning user ID")
	listProjectsCmd.Flags().StringVar(&projectOrg, "org", "", "filter by organization ID")
	listProjectsCmd.Flags().StringVar(&projectStatus, "status", "", "filter by status")
	listProjectsCmd.Flags().StringVar(&projectTier, "tier", "", "filter by tier")
	listProjectsCmd.Flags().BoolVar(&projectDeleted, "include-deleted", false, "include soft-deleted projects")

	adjustUsageCmd.Flags().Int64Var(&usageDelta.Vectors, "vectors", 0, "change in stored vectors")
	adjustUsageCmd.Flags().Int64Var(&usageDelta.Tables, "tables", 0, "change in tables")
	adjustUsageCmd.Flags().Int64Var(&usageDelta.Events, "events", 0, "change in monthly events")
	adjustUsageCmd.Flags().Float64Var(&usageDelta.MemoryUsageMB, "memory-mb", 0, "change in memory usage (MB)")
	adjustUsageCmd.Flags().Float64Var(&usageDelta.StorageMB, "storage-mb", 0, "change in storage usage (MB)")

	projectCmd.AddCommand(
		createProjectCmd,
		listProjectsCmd,
		lifecycleCmd("soft-delete", "Mark a project deleted without removing it", "deleted", (*services.ProjectService).SoftDelete),
		lifecycleCmd("restore", "Restore a soft-deleted project", "restored", (*services.ProjectService).Restore),
		lifecycleCmd("suspend", "Suspend an active project", "suspended", (*services.ProjectService).Suspend),
		lifecycleCmd("resume", "Resume a suspended project", "resumed", (*services.ProjectService).Resume),
		adjustUsageCmd,
		quotaCmd,
		shareProjectCmd,
		unshareProjectCmd,
		userProjectsCmd,
	)
	rootCmd.AddCommand(projectCmd)
}
