// Package telemetry provides application-level observability for the account service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by `accounts serve`:
//
//	GET http://<host>:<ACCT_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.
//
// # Metric Groups
//
//   - API key validation outcomes, revocations and rate-limit rejections
//   - Daily request counter rollover
//   - API key expiry notification counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// Labels carry outcome names only. Key, user and project IDs are never used as
// label values.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Validation outcomes recorded in APIKeyValidationsTotal
const (
	ValidationAccepted     = "accepted"
	ValidationUnknown      = "unknown"
	ValidationExpired      = "expired"
	ValidationRevoked      = "revoked"
	ValidationDisabled     = "disabled"
	ValidationIPNotAllowed = "ip_not_allowed"
	ValidationRateLimited  = "rate_limited"
)

// APIKey metrics, recorded by services.APIKeyService.
//
// APIKeyValidationsTotal is a CounterVec with label {result}, one of the
// Validation* constants above.
//
// Example PromQL queries:
//   - Rejection ratio:  sum(rate(apikey_validations_total{result!="accepted"}[5m])) / sum(rate(apikey_validations_total[5m]))
//   - Expired key use:  increase(apikey_validations_total{result="expired"}[1h])
var (
	APIKeyValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apikey_validations_total",
			Help: "Total number of API key validation attempts, by result.",
		},
		[]string{"result"},
	)

	APIKeyRevocationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apikey_revocations_total",
			Help: "Total number of API keys revoked.",
		},
	)

	APIKeyValidationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apikey_validation_duration_seconds",
			Help:    "Duration of a single API key validation, including usage accounting.",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)
)

// UsageRolloverResetsTotal counts keys whose request_count_today was zeroed by
// the usage rollover job.
//
// Example PromQL queries:
//   - Keys active per day:  increase(usage_rollover_resets_total[24h])
var UsageRolloverResetsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "usage_rollover_resets_total",
		Help: "Total number of API keys whose daily request counter was reset.",
	},
)

// APIKeyExpiryNotificationsSentTotal is a plain Counter (no labels) incremented once
// per email successfully delivered by the api_key_expiry_notifier background job.
// A stalled counter combined with api keys approaching expiry is a useful alert signal
// for SMTP delivery failures.
//
// Example PromQL queries:
//   - Rate of notifications sent:  rate(apikey_expiry_notifications_sent_total[24h])
var APIKeyExpiryNotificationsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "apikey_expiry_notifications_sent_total",
		Help: "Total number of API key expiry warning emails successfully sent.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <ACCT_DATABASE_MAX_CONNECTIONS> * 100
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every interval and updates the DBOpenConnections gauge. The goroutine
// exits when ctx is cancelled or the database becomes unreachable.
//
//	telemetry.StartDBStatsCollector(ctx, database.DB, 30*time.Second)
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
