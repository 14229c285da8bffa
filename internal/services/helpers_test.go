package services

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/ainative/accounts/internal/ratelimit"
)

var (
	errDB    = errors.New("db error")
	fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

var apiKeyCols = []string{
	"id", "user_id", "name", "description", "key_prefix", "key_hash", "permissions", "rate_limit",
	"ip_whitelist", "is_active", "expires_at", "last_used_at", "revoked_at", "revoked_reason", "usage_count",
	"request_count_today", "last_request_at", "custom_metadata", "expiry_notification_sent_at",
	"created_at", "updated_at",
}

// keyRow describes the lifecycle columns of a stored key; everything else is fixed.
type keyRow struct {
	isActive  bool
	expiresAt interface{}
	revokedAt interface{}
	whitelist interface{}
}

func activeKey() keyRow {
	return keyRow{isActive: true, whitelist: []byte(`["10.0.0.0/8","192.0.2.7"]`)}
}

func (k keyRow) rows() *sqlmock.Rows {
	return sqlmock.NewRows(apiKeyCols).
		AddRow("key-1", "user-1", "CI Key", nil, "ak_live_ab", "stored-hash", []byte(`["read","write"]`), 1000,
			k.whitelist, k.isActive, k.expiresAt, nil, k.revokedAt, nil, int64(42),
			int64(7), nil, nil, nil,
			fixedNow.Add(-24*time.Hour), fixedNow.Add(-24*time.Hour))
}

var userCols = []string{
	"id", "email", "username", "full_name", "hashed_password", "github_id", "is_active", "status",
	"is_superuser", "email_verified", "role", "permissions", "last_login_at", "password_reset_token",
	"password_reset_expires", "created_at", "updated_at",
}

func userRow(status string, hashedPassword interface{}, role string, permissions []byte) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow("user-1", "alice@example.com", nil, "Alice Liddell", hashedPassword, nil, status == "ACTIVE", status,
			false, true, role, permissions, nil, nil,
			nil, fixedNow, fixedNow)
}

var roleCols = []string{"id", "name", "description", "permissions", "is_system_role", "created_at", "updated_at"}

var projectCols = []string{
	"id", "name", "description", "user_id", "organization_id", "status", "tier", "database_enabled",
	"vector_dimensions", "quantum_enabled", "mcp_enabled", "database_config", "railway_project_id", "qdrant_url",
	"minio_url", "redpanda_url", "vectors_count", "tables_count", "events_count", "memory_usage_mb",
	"storage_usage_mb", "created_at", "updated_at", "deleted_at",
}

func projectRow(status, tier string, deletedAt interface{}, vectors int64) *sqlmock.Rows {
	return sqlmock.NewRows(projectCols).
		AddRow("proj-1", "demo", nil, "user-1", nil, status, tier, true,
			1536, false, false, []byte(`{}`), nil, nil,
			nil, nil, vectors, int64(1), int64(10), 0.0,
			1.5, fixedNow, fixedNow, deletedAt)
}

// ---------------------------------------------------------------------------
// Limiter fake
// ---------------------------------------------------------------------------

type fakeLimiter struct {
	result  ratelimit.Result
	err     error
	key     string
	perHour int
	calls   int
}

func (f *fakeLimiter) Allow(_ context.Context, key string, perHour int) (ratelimit.Result, error) {
	f.calls++
	f.key = key
	f.perHour = perHour
	return f.result, f.err
}
