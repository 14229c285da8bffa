// usage_rollover.go implements the UsageRollover background job, which zeroes the
// request_count_today counter of every API key once per interval (daily by default).
// usage_count is cumulative and never reset.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ainative/accounts/internal/db/repositories"
	"github.com/ainative/accounts/internal/telemetry"
)

// UsageRollover periodically resets per-day API key request counters.
type UsageRollover struct {
	apiKeyRepo *repositories.APIKeyRepository
	interval   time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewUsageRollover creates a new UsageRollover. A non-positive interval defaults to 24h.
func NewUsageRollover(apiKeyRepo *repositories.APIKeyRepository, interval time.Duration) *UsageRollover {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &UsageRollover{
		apiKeyRepo: apiKeyRepo,
		interval:   interval,
		stopChan:   make(chan struct{}),
	}
}

// Start runs the rollover loop until ctx is cancelled or Stop is called. The
// first reset happens one interval after start, not immediately, so a restart
// does not wipe the current day's counts.
func (r *UsageRollover) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("usage rollover started", "interval", r.interval)

	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx)
		case <-r.stopChan:
			slog.Info("usage rollover stopped")
			return
		case <-ctx.Done():
			slog.Info("usage rollover context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (r *UsageRollover) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

func (r *UsageRollover) runOnce(ctx context.Context) {
	n, err := r.apiKeyRepo.ResetDailyRequestCounts(ctx)
	if err != nil {
		slog.Error("usage rollover: failed to reset daily request counts", "error", err)
		return
	}
	telemetry.UsageRolloverResetsTotal.Add(float64(n))
	slog.Info("usage rollover: daily request counts reset", "keys", n)
}
