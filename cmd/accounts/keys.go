package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ainative/accounts/internal/config"
	"github.com/ainative/accounts/internal/db/repositories"
	"github.com/ainative/accounts/internal/ratelimit"
	"github.com/ainative/accounts/internal/services"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage API keys",
}

// withKeys runs fn against an APIKeyService bound to a fresh connection and,
// when enabled, the configured rate limiter.
func withKeys(ctx context.Context, fn func(*services.APIKeyService) error) error {
	cfg, database, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	limiter, closeLimiter, err := newLimiter(ctx, cfg.RateLimiting)
	if err != nil {
		return err
	}
	defer closeLimiter()

	svc := services.NewAPIKeyService(
		repositories.NewAPIKeyRepository(database),
		repositories.NewActivityLogRepository(database),
		limiter,
		cfg.Auth.APIKeys,
	)
	return fn(svc)
}

// newLimiter builds the configured rate limiter. A nil limiter means per-key
// limits are not enforced. The returned func releases the backend.
func newLimiter(ctx context.Context, cfg config.RateLimitingConfig) (ratelimit.Limiter, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}
	switch cfg.Backend {
	case "memory":
		l := ratelimit.NewMemoryLimiter(10 * time.Minute)
		return l, l.Stop, nil
	default:
		l, err := ratelimit.NewRedisLimiter(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return l, func() {
			if err := l.Close(); err != nil {
				slog.Warn("failed to close redis limiter", "error", err)
			}
		}, nil
	}
}

var (
	keyName        string
	keyDescription string
	keyPermissions []string
	keyRateLimit   int
	keyIPWhitelist []string
	keyExpiresIn   time.Duration
	keyRevokeNote  string
	keyCallerIP    string
	keyEndpoint    string
	keyRequests    int
)

var createKeyCmd = &cobra.Command{
	Use:   "create [user-id]",
	Short: "Issue a new API key for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeys(cmd.Context(), func(svc *services.APIKeyService) error {
			in := services.CreateAPIKeyInput{
				UserID:      args[0],
				Name:        keyName,
				Description: optionalFlag(keyDescription),
				Permissions: keyPermissions,
				RateLimit:   keyRateLimit,
				IPWhitelist: keyIPWhitelist,
			}
			if keyExpiresIn > 0 {
				exp := time.Now().UTC().Add(keyExpiresIn)
				in.ExpiresAt = &exp
			}
			created, err := svc.Create(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("failed to create api key: %w", err)
			}
			fmt.Printf("API key created: %s (ID: %s)\n", created.Key.Name, created.Key.ID)
			fmt.Printf("Key (shown once): %s\n", created.Plaintext)
			return nil
		})
	},
}

var listKeysCmd = &cobra.Command{
	Use:   "list [user-id]",
	Short: "List a user's API keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeys(cmd.Context(), func(svc *services.APIKeyService) error {
			keys, err := svc.List(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to list api keys: %w", err)
			}
			now := time.Now().UTC()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPREFIX\tSTATE\tPERMISSIONS\tREQUESTS_TODAY")
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					k.ID, k.Name, k.KeyPrefix, k.StateAt(now), strings.Join(k.Permissions, ","), k.RequestCountToday)
			}
			return w.Flush()
		})
	},
}

var revokeKeyCmd = &cobra.Command{
	Use:   "revoke [id]",
	Short: "Permanently revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeys(cmd.Context(), func(svc *services.APIKeyService) error {
			if _, err := svc.Revoke(cmd.Context(), args[0], keyRevokeNote); err != nil {
				return fmt.Errorf("failed to revoke api key: %w", err)
			}
			fmt.Printf("API key revoked: %s\n", args[0])
			return nil
		})
	},
}

var validateKeyCmd = &cobra.Command{
	Use:   "validate [key]",
	Short: "Validate a plaintext key and count requests against it",
	Long: `Validate a plaintext key --requests times, counting each as one request.
With the memory rate limiting backend the bucket lives only as long as this
process, so limits are enforced across the requests of a single run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if keyRequests < 1 {
			return fmt.Errorf("--requests must be at least 1, got %d", keyRequests)
		}
		return withKeys(cmd.Context(), func(svc *services.APIKeyService) error {
			req := services.RequestInfo{
				IP:        keyCallerIP,
				UserAgent: "accounts-cli",
				Endpoint:  keyEndpoint,
			}
			for i := 1; i <= keyRequests; i++ {
				k, err := svc.Validate(cmd.Context(), args[0], req)
				if err != nil {
					return fmt.Errorf("request %d: %w", i, err)
				}
				fmt.Printf("valid: %s (user %s, requests today %d of %d/h)\n", k.ID, k.UserID, k.RequestCountToday, k.RateLimit)
			}
			return nil
		})
	},
}

var keyActivityCmd = &cobra.Command{
	Use:   "activity [id]",
	Short: "Show the most recent activity of an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeys(cmd.Context(), func(svc *services.APIKeyService) error {
			entries, total, err := svc.ActivityLog(cmd.Context(), args[0], 0, 0)
			if err != nil {
				return fmt.Errorf("failed to load activity: %w", err)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "AT\tACTION\tIP\tENDPOINT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Action, deref(e.IPAddress), deref(e.Endpoint))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("%d of %d entries\n", len(entries), total)
			return nil
		})
	},
}

var deleteKeyCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete an API key and its activity log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeys(cmd.Context(), func(svc *services.APIKeyService) error {
			if err := svc.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete api key: %w", err)
			}
			fmt.Printf("API key deleted: %s\n", args[0])
			return nil
		})
	},
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func init() {
	createKeyCmd.Flags().StringVar(&keyName, "name", "", "friendly name (required)")
	createKeyCmd.Flags().StringVar(&keyDescription, "description", "", "free-text description")
	createKeyCmd.Flags().StringSliceVar(&keyPermissions, "permission", nil, "granted permission, repeatable (default read)")
	createKeyCmd.Flags().IntVar(&keyRateLimit, "rate-limit", 0, "requests per hour (default from config)")
	createKeyCmd.Flags().StringSliceVar(&keyIPWhitelist, "allow-ip", nil, "allowed caller address or CIDR, repeatable")
	createKeyCmd.Flags().DurationVar(&keyExpiresIn, "expires-in", 0, "lifetime, e.g. 720h (default never)")
	_ = createKeyCmd.MarkFlagRequired("name")

	revokeKeyCmd.Flags().StringVar(&keyRevokeNote, "reason", "", "reason recorded with the revocation")

	validateKeyCmd.Flags().StringVar(&keyCallerIP, "ip", "", "caller address checked against the key's allow list")
	validateKeyCmd.Flags().StringVar(&keyEndpoint, "endpoint", "", "endpoint recorded in the activity log")
	validateKeyCmd.Flags().IntVar(&keyRequests, "requests", 1, "number of requests to validate in this run")

	keyCmd.AddCommand(createKeyCmd, listKeysCmd, revokeKeyCmd, validateKeyCmd, keyActivityCmd, deleteKeyCmd)
	rootCmd.AddCommand(keyCmd)
}
