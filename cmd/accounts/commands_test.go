package main

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ainative/accounts/internal/auth"
	"github.com/ainative/accounts/internal/config"
	"github.com/ainative/accounts/internal/db/models"
	"github.com/ainative/accounts/internal/services"
)

// withMockDB points bootstrap at cfg and a sqlmock connection for one test.
func withMockDB(t *testing.T, cfg *config.Config) sqlmock.Sqlmock {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	database := sqlx.NewDb(raw, "sqlmock")

	prev := bootstrap
	bootstrap = func(context.Context) (*config.Config, *sqlx.DB, error) { return cfg, database, nil }
	t.Cleanup(func() { bootstrap = prev })
	return mock
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	return rootCmd.ExecuteContext(context.Background())
}

func keyConfig(limiting config.RateLimitingConfig) *config.Config {
	cfg := &config.Config{RateLimiting: limiting}
	cfg.Auth.APIKeys = config.APIKeysConfig{Prefix: "ak_test", DefaultRateLimit: 500}
	return cfg
}

// ---------------------------------------------------------------------------
// key validate
// ---------------------------------------------------------------------------

const cliKey = "ak_test_cli-presented-key"

var keyColumns = []string{
	"id", "user_id", "name", "description", "key_prefix", "key_hash", "permissions", "rate_limit",
	"ip_whitelist", "is_active", "expires_at", "last_used_at", "revoked_at", "revoked_reason", "usage_count",
	"request_count_today", "last_request_at", "custom_metadata", "expiry_notification_sent_at",
	"created_at", "updated_at",
}

func expectKeyLookup(mock sqlmock.Sqlmock, rateLimit int, whitelist interface{}) {
	created := time.Now().Add(-time.Hour)
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE key_hash").
		WithArgs(auth.HashAPIKey(cliKey)).
		WillReturnRows(sqlmock.NewRows(keyColumns).
			AddRow("key-1", "user-1", "CLI", nil, "ak_test_cl", auth.HashAPIKey(cliKey), []byte(`["read"]`), rateLimit,
				whitelist, true, nil, nil, nil, nil, int64(0),
				int64(0), nil, nil, nil,
				created, created))
}

func expectKeyActivity(mock sqlmock.Sqlmock, action models.APIKeyAction) {
	mock.ExpectExec("INSERT INTO api_key_activity_logs").
		WithArgs(sqlmock.AnyArg(), "key-1", action, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestKeyValidateCommand_MemoryLimiterAcrossRequests(t *testing.T) {
	mock := withMockDB(t, keyConfig(config.RateLimitingConfig{Enabled: true, Backend: "memory"}))

	expectKeyLookup(mock, 1, nil)
	mock.ExpectQuery("UPDATE api_keys").
		WithArgs("key-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"usage_count", "request_count_today"}).AddRow(int64(1), int64(1)))
	expectKeyActivity(mock, models.APIKeyActionValidated)

	expectKeyLookup(mock, 1, nil)
	expectKeyActivity(mock, models.APIKeyActionRateLimited)
	mock.ExpectClose()

	err := run(t, "key", "validate", cliKey, "--requests", "2", "--ip", "", "--endpoint", "/v1/vectors")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrRateLimited)
	assert.Contains(t, err.Error(), "request 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyValidateCommand_IPNotAllowed(t *testing.T) {
	mock := withMockDB(t, keyConfig(config.RateLimitingConfig{}))

	expectKeyLookup(mock, 1000, []byte(`["10.0.0.0/8"]`))
	expectKeyActivity(mock, models.APIKeyActionRejected)
	mock.ExpectClose()

	err := run(t, "key", "validate", cliKey, "--requests", "1", "--ip", "192.0.2.1", "--endpoint", "")
	assert.ErrorIs(t, err, services.ErrIPNotAllowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyValidateCommand_RequestsMustBePositive(t *testing.T) {
	mock := withMockDB(t, keyConfig(config.RateLimitingConfig{}))

	err := run(t, "key", "validate", cliKey, "--requests", "0")
	assert.ErrorContains(t, err, "--requests must be at least 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// project soft-delete
// ---------------------------------------------------------------------------

var projectColumns = []string{
	"id", "name", "description", "user_id", "organization_id", "status", "tier", "database_enabled",
	"vector_dimensions", "quantum_enabled", "mcp_enabled", "database_config", "railway_project_id", "qdrant_url",
	"minio_url", "redpanda_url", "vectors_count", "tables_count", "events_count", "memory_usage_mb",
	"storage_usage_mb", "created_at", "updated_at", "deleted_at",
}

func expectProjectLookup(mock sqlmock.Sqlmock, status string, deletedAt interface{}) {
	now := time.Now()
	mock.ExpectQuery("SELECT.*FROM projects WHERE id").
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows(projectColumns).
			AddRow("proj-1", "demo", nil, "user-1", nil, status, "free", true,
				1536, false, false, []byte(`{}`), nil, nil,
				nil, nil, int64(0), int64(0), int64(0), 0.0,
				0.0, now, now, deletedAt))
}

func TestProjectSoftDeleteCommand(t *testing.T) {
	mock := withMockDB(t, &config.Config{})

	expectProjectLookup(mock, "ACTIVE", nil)
	mock.ExpectExec("UPDATE projects SET status = \\$2, deleted_at = \\$3").
		WithArgs("proj-1", models.ProjectStatusDeleted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	require.NoError(t, run(t, "project", "soft-delete", "proj-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectSoftDeleteCommand_AlreadyDeleted(t *testing.T) {
	mock := withMockDB(t, &config.Config{})

	expectProjectLookup(mock, "DELETED", time.Now())
	mock.ExpectClose()

	err := run(t, "project", "soft-delete", "proj-1")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "failed to soft-delete project")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectSoftDeleteCommand_NotFound(t *testing.T) {
	mock := withMockDB(t, &config.Config{})

	mock.ExpectQuery("SELECT.*FROM projects WHERE id").
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows(projectColumns))
	mock.ExpectClose()

	assert.ErrorIs(t, run(t, "project", "soft-delete", "proj-1"), services.ErrProjectNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
