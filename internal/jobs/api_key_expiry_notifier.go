// api_key_expiry_notifier.go implements the APIKeyExpiryNotifier background job, which
// periodically scans for API keys approaching their expiry date and sends a warning email
// to the owning user. Notification state is persisted in the database
// (expiry_notification_sent_at column) so each key is warned about once, even across
// restarts. The job is a no-op when notifications.enabled is false or when the SMTP host
// is not configured, so it is always safe to start.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ainative/accounts/internal/config"
	"github.com/ainative/accounts/internal/db/models"
	"github.com/ainative/accounts/internal/db/repositories"
	"github.com/ainative/accounts/internal/telemetry"
)

// APIKeyExpiryNotifier periodically emails users whose API keys are about to expire.
type APIKeyExpiryNotifier struct {
	apiKeyRepo *repositories.APIKeyRepository
	userRepo   *repositories.UserRepository
	cfg        *config.NotificationsConfig
	interval   time.Duration
	stopChan   chan struct{}
	send       mailer
	now        func() time.Time
}

// NewAPIKeyExpiryNotifier creates a new APIKeyExpiryNotifier.
// cfg.APIKeyExpiryCheckIntervalHours controls how often the check runs (default 24h).
func NewAPIKeyExpiryNotifier(
	apiKeyRepo *repositories.APIKeyRepository,
	userRepo *repositories.UserRepository,
	cfg *config.NotificationsConfig,
) *APIKeyExpiryNotifier {
	hours := cfg.APIKeyExpiryCheckIntervalHours
	if hours <= 0 {
		hours = 24
	}
	n := &APIKeyExpiryNotifier{
		apiKeyRepo: apiKeyRepo,
		userRepo:   userRepo,
		cfg:        cfg,
		interval:   time.Duration(hours) * time.Hour,
		stopChan:   make(chan struct{}),
		now:        time.Now,
	}
	n.send = newSMTPMailer(cfg.SMTP).Send
	return n
}

// Start begins the background expiry-notification loop.
// It runs an initial check immediately, then repeats on the configured interval.
// The loop exits when ctx is cancelled or Stop() is called.
func (n *APIKeyExpiryNotifier) Start(ctx context.Context) {
	if !n.cfg.Enabled {
		slog.Info("api key expiry notifier disabled", "reason", "notifications.enabled=false")
		return
	}
	if n.cfg.SMTP.Host == "" {
		slog.Info("api key expiry notifier disabled", "reason", "notifications.smtp.host not set")
		return
	}

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	slog.Info("api key expiry notifier started",
		"interval", n.interval, "warning_days", n.cfg.APIKeyExpiryWarningDays)

	n.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			n.runCheck(ctx)
		case <-n.stopChan:
			slog.Info("api key expiry notifier stopped")
			return
		case <-ctx.Done():
			slog.Info("api key expiry notifier context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (n *APIKeyExpiryNotifier) Stop() {
	close(n.stopChan)
}

// runCheck queries for expiring keys and sends notification emails.
func (n *APIKeyExpiryNotifier) runCheck(ctx context.Context) {
	warningDays := n.cfg.APIKeyExpiryWarningDays
	if warningDays <= 0 {
		warningDays = 7
	}

	keys, err := n.apiKeyRepo.FindExpiringKeys(ctx, warningDays)
	if err != nil {
		slog.Error("api key expiry notifier: failed to query expiring keys", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}

	slog.Info("api key expiry notifier: keys approaching expiry", "count", len(keys))

	for _, key := range keys {
		if key.UserID == "" || key.ExpiresAt == nil {
			continue
		}

		user, err := n.userRepo.GetUserByID(ctx, key.UserID)
		if err != nil {
			slog.Warn("api key expiry notifier: could not load key owner",
				"user_id", key.UserID, "api_key_id", key.ID, "error", err)
			continue
		}
		if user == nil || user.Email == "" || !user.IsActive {
			continue
		}

		subject, body := n.expiryMessage(user, key)
		if err := n.send(user.Email, subject, body); err != nil {
			slog.Warn("api key expiry notifier: failed to send email",
				"api_key_id", key.ID, "error", err)
			continue
		}
		telemetry.APIKeyExpiryNotificationsSentTotal.Inc()

		if err := n.apiKeyRepo.MarkExpiryNotificationSent(ctx, key.ID); err != nil {
			slog.Error("api key expiry notifier: failed to mark notification sent",
				"api_key_id", key.ID, "error", err)
		}
	}
}

// expiryMessage composes the warning email for one key.
func (n *APIKeyExpiryNotifier) expiryMessage(user *models.User, key *models.APIKey) (subject, body string) {
	expiresAt := *key.ExpiresAt
	daysLeft := int(expiresAt.Sub(n.now()).Hours()/24) + 1
	if daysLeft < 0 {
		daysLeft = 0
	}

	greeting := user.Email
	if user.FullName != nil && *user.FullName != "" {
		greeting = *user.FullName
	}

	subject = fmt.Sprintf("Action Required: API key '%s' expires in %d day(s)", key.Name, daysLeft)
	body = strings.Join([]string{
		fmt.Sprintf("Hello %s,", greeting),
		"",
		fmt.Sprintf("Your API key '%s' (%s...) will expire on %s (%d day(s) from now).",
			key.Name, key.KeyPrefix, expiresAt.UTC().Format(time.RFC1123), daysLeft),
		"",
		"Requests made with an expired key are rejected. To avoid disruption:",
		"  1. Create a replacement key with the same permissions.",
		"  2. Update every client and pipeline that uses the old key.",
		"  3. Revoke the old key or let it expire.",
		"",
		"If you no longer need this key, no action is required.",
	}, "\r\n")
	return subject, body
}
