package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/ainative/accounts/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var apiKeyCols = []string{
	"id", "user_id", "name", "description", "key_prefix", "key_hash", "permissions", "rate_limit",
	"ip_whitelist", "is_active", "expires_at", "last_used_at", "revoked_at", "revoked_reason", "usage_count",
	"request_count_today", "last_request_at", "custom_metadata", "expiry_notification_sent_at",
	"created_at", "updated_at",
}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

func sampleAPIKeyRow() *sqlmock.Rows {
	return sqlmock.NewRows(apiKeyCols).
		AddRow("key-1", "user-1", "CI Key", nil, "ak_live_ab", "5e884898da28", []byte(`["read","write"]`), 1000,
			[]byte(`["10.0.0.0/8"]`), true, nil, nil, nil, nil, int64(42),
			int64(7), nil, nil, nil,
			time.Now(), time.Now())
}

func revokedAPIKeyRow() *sqlmock.Rows {
	revoked := time.Now().Add(-time.Hour)
	return sqlmock.NewRows(apiKeyCols).
		AddRow("key-2", "user-1", "old", nil, "ak_live_cd", "a1b2c3", []byte(`["read"]`), 1000,
			nil, false, nil, nil, revoked, "leaked", int64(0),
			int64(0), nil, []byte(`{"team":"ops"}`), nil,
			time.Now(), time.Now())
}

func newAPIKeyRepo(t *testing.T) (*APIKeyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewAPIKeyRepository(db), mock
}

// ---------------------------------------------------------------------------
// CreateAPIKey
// ---------------------------------------------------------------------------

func TestCreateAPIKey_Success(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").
		WithArgs(sqlmock.AnyArg(), "user-1", "CI Key", nil, "ak_live_ab", "hash",
			[]byte(`["read"]`), models.DefaultRateLimit, nil, true, nil, nil,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	k := &models.APIKey{UserID: "user-1", Name: "CI Key", KeyPrefix: "ak_live_ab", KeyHash: "hash",
		Permissions: []string{"read"}, IsActive: true}
	if err := repo.CreateAPIKey(context.Background(), k); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if k.RateLimit != models.DefaultRateLimit {
		t.Errorf("RateLimit = %d, want %d", k.RateLimit, models.DefaultRateLimit)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateAPIKey_StoresWhitelist(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").
		WithArgs(sqlmock.AnyArg(), "user-1", "k", nil, "p", "h",
			[]byte(`[]`), 50, []byte(`["1.2.3.4","10.0.0.0/8"]`), true, nil, nil,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	k := &models.APIKey{UserID: "user-1", Name: "k", KeyPrefix: "p", KeyHash: "h", RateLimit: 50,
		IPWhitelist: []string{"1.2.3.4", "10.0.0.0/8"}, IsActive: true}
	if err := repo.CreateAPIKey(context.Background(), k); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateAPIKey_DuplicateHash(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_api_keys_key_hash"})

	err := repo.CreateAPIKey(context.Background(), &models.APIKey{UserID: "user-1", KeyHash: "h"})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
}

func TestCreateAPIKey_UnknownUser(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnError(&pq.Error{Code: "23503"})

	err := repo.CreateAPIKey(context.Background(), &models.APIKey{UserID: "ghost", KeyHash: "h"})
	if !errors.Is(err, ErrForeignKeyViolation) {
		t.Fatalf("err = %v, want ErrForeignKeyViolation", err)
	}
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

func TestGetAPIKeyByHash_Found(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE key_hash = \\$1").
		WithArgs("5e884898da28").
		WillReturnRows(sampleAPIKeyRow())

	k, err := repo.GetAPIKeyByHash(context.Background(), "5e884898da28")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k == nil {
		t.Fatal("expected key, got nil")
	}
	if len(k.Permissions) != 2 || !k.HasPermission("write") {
		t.Errorf("Permissions = %v", k.Permissions)
	}
	if len(k.IPWhitelist) != 1 || k.IPWhitelist[0] != "10.0.0.0/8" {
		t.Errorf("IPWhitelist = %v", k.IPWhitelist)
	}
	if k.UsageCount != 42 || k.RequestCountToday != 7 {
		t.Errorf("usage=%d today=%d", k.UsageCount, k.RequestCountToday)
	}
	if !k.IsValid() {
		t.Error("key should be valid")
	}
}

func TestGetAPIKeyByHash_NotFound(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE key_hash").
		WillReturnRows(sqlmock.NewRows(apiKeyCols))

	k, err := repo.GetAPIKeyByHash(context.Background(), "nope")
	if err != nil || k != nil {
		t.Fatalf("GetAPIKeyByHash = %v, %v; want nil, nil", k, err)
	}
}

func TestGetAPIKeyByID_Revoked(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE id = \\$1").
		WithArgs("key-2").
		WillReturnRows(revokedAPIKeyRow())

	k, err := repo.GetAPIKeyByID(context.Background(), "key-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.StateAt(time.Now()) != models.APIKeyStateRevoked {
		t.Errorf("state = %s, want revoked", k.StateAt(time.Now()))
	}
	if k.RevokedReason == nil || *k.RevokedReason != "leaked" {
		t.Errorf("RevokedReason = %v", k.RevokedReason)
	}
	if k.IPWhitelist != nil {
		t.Errorf("IPWhitelist = %v, want nil", k.IPWhitelist)
	}
	if string(k.CustomMetadata) != `{"team":"ops"}` {
		t.Errorf("CustomMetadata = %s", k.CustomMetadata)
	}
}

func TestGetAPIKeyByID_DBError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys").WillReturnError(errDB)

	if _, err := repo.GetAPIKeyByID(context.Background(), "key-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestListUserAPIKeys(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE user_id = \\$1 ORDER BY created_at DESC").
		WithArgs("user-1").
		WillReturnRows(sampleAPIKeyRow())

	keys, err := repo.ListUserAPIKeys(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("len = %d, want 1", len(keys))
	}
}

func TestListUserAPIKeys_Empty(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys").
		WillReturnRows(sqlmock.NewRows(apiKeyCols))

	keys, err := repo.ListUserAPIKeys(context.Background(), "user-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keys == nil || len(keys) != 0 {
		t.Errorf("keys = %v, want empty non-nil slice", keys)
	}
}

// ---------------------------------------------------------------------------
// UpdateAPIKey / RevokeAPIKey
// ---------------------------------------------------------------------------

func TestUpdateAPIKey_NotFound(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateAPIKey(context.Background(), &models.APIKey{ID: "missing", Name: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRevokeAPIKey_Success(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	at := time.Now()
	reason := "rotated"
	mock.ExpectExec("UPDATE api_keys SET is_active = FALSE, revoked_at = \\$2, revoked_reason = \\$3.*WHERE id = \\$1 AND revoked_at IS NULL").
		WithArgs("key-1", at, &reason).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RevokeAPIKey(context.Background(), "key-1", reason, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRevokeAPIKey_NoReason(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	at := time.Now()
	mock.ExpectExec("UPDATE api_keys").
		WithArgs("key-1", at, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RevokeAPIKey(context.Background(), "key-1", "", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRevokeAPIKey_AlreadyRevoked(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RevokeAPIKey(context.Background(), "key-2", "again", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// RecordUsage
// ---------------------------------------------------------------------------

func TestRecordUsage_Increments(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	now := time.Now()
	mock.ExpectQuery("UPDATE api_keys SET usage_count = usage_count \\+ 1, request_count_today = request_count_today \\+ 1.*RETURNING usage_count, request_count_today").
		WithArgs("key-1", now).
		WillReturnRows(sqlmock.NewRows([]string{"usage_count", "request_count_today"}).AddRow(int64(43), int64(8)))

	usage, today, err := repo.RecordUsage(context.Background(), "key-1", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage != 43 || today != 8 {
		t.Errorf("usage=%d today=%d, want 43/8", usage, today)
	}
}

func TestRecordUsage_KeyNoLongerValid(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("UPDATE api_keys").
		WillReturnRows(sqlmock.NewRows([]string{"usage_count", "request_count_today"}))

	_, _, err := repo.RecordUsage(context.Background(), "key-2", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordUsage_DBError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("UPDATE api_keys").WillReturnError(errDB)

	if _, _, err := repo.RecordUsage(context.Background(), "key-1", time.Now()); !errors.Is(err, errDB) {
		t.Fatalf("err = %v, want errDB", err)
	}
}

// ---------------------------------------------------------------------------
// Daily reset and expiry bookkeeping
// ---------------------------------------------------------------------------

func TestResetDailyRequestCounts(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys SET request_count_today = 0 WHERE request_count_today <> 0").
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := repo.ResetDailyRequestCounts(context.Background())
	if err != nil || n != 12 {
		t.Fatalf("ResetDailyRequestCounts = %d, %v; want 12, nil", n, err)
	}
}

func TestFindExpiringKeys(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE expires_at IS NOT NULL.*expiry_notification_sent_at IS NULL").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sampleAPIKeyRow())

	keys, err := repo.FindExpiringKeys(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("len = %d, want 1", len(keys))
	}
}

func TestMarkExpiryNotificationSent(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys SET expiry_notification_sent_at").
		WithArgs(sqlmock.AnyArg(), "key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkExpiryNotificationSent(context.Background(), "key-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Deletion
// ---------------------------------------------------------------------------

func TestDeleteAPIKey_NotFound(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("DELETE FROM api_keys WHERE id").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.DeleteAPIKey(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteUserAPIKeys(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("DELETE FROM api_keys WHERE user_id").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteUserAPIKeys(context.Background(), "user-1")
	if err != nil || n != 4 {
		t.Fatalf("DeleteUserAPIKeys = %d, %v; want 4, nil", n, err)
	}
}
