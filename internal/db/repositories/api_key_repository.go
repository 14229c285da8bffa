// api_key_repository.go implements APIKeyRepository, providing database queries for API key
// creation, lookup by hash, revocation, atomic usage accounting, the daily request counter
// reset and expiry notification bookkeeping.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ainative/accounts/internal/db/models"
)

const apiKeyColumns = `id, user_id, name, description, key_prefix, key_hash, permissions, rate_limit,
	ip_whitelist, is_active, expires_at, last_used_at, revoked_at, revoked_reason, usage_count,
	request_count_today, last_request_at, custom_metadata, expiry_notification_sent_at,
	created_at, updated_at`

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db DBTX
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// WithTx returns a copy of the repository that runs its queries inside tx.
func (r *APIKeyRepository) WithTx(tx *sqlx.Tx) *APIKeyRepository {
	return &APIKeyRepository{db: tx}
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	k := &models.APIKey{}
	var permissionsJSON, whitelistJSON, metadataJSON []byte
	err := row.Scan(
		&k.ID,
		&k.UserID,
		&k.Name,
		&k.Description,
		&k.KeyPrefix,
		&k.KeyHash,
		&permissionsJSON,
		&k.RateLimit,
		&whitelistJSON,
		&k.IsActive,
		&k.ExpiresAt,
		&k.LastUsedAt,
		&k.RevokedAt,
		&k.RevokedReason,
		&k.UsageCount,
		&k.RequestCountToday,
		&k.LastRequestAt,
		&metadataJSON,
		&k.ExpiryNotificationSentAt,
		&k.CreatedAt,
		&k.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if permissionsJSON != nil {
		if err := json.Unmarshal(permissionsJSON, &k.Permissions); err != nil {
			return nil, err
		}
	}
	if whitelistJSON != nil {
		if err := json.Unmarshal(whitelistJSON, &k.IPWhitelist); err != nil {
			return nil, err
		}
	}
	k.CustomMetadata = rawJSON(metadataJSON)
	return k, nil
}

func (r *APIKeyRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE ` + where + ` = $1`
	k, err := scanAPIKey(r.db.QueryRowxContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

func marshalStrings(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	return json.Marshal(v)
}

// whitelistArg stores an empty whitelist as NULL, meaning no restriction.
func whitelistArg(v []string) (interface{}, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CreateAPIKey inserts a new API key. A colliding key hash yields ErrDuplicateKey.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	k.CreatedAt = now
	k.UpdatedAt = now
	if k.RateLimit == 0 {
		k.RateLimit = models.DefaultRateLimit
	}

	permissionsJSON, err := marshalStrings(k.Permissions)
	if err != nil {
		return err
	}
	whitelistJSON, err := whitelistArg(k.IPWhitelist)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_keys (id, user_id, name, description, key_prefix, key_hash, permissions, rate_limit,
			ip_whitelist, is_active, expires_at, custom_metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.db.ExecContext(ctx, query,
		k.ID,
		k.UserID,
		k.Name,
		k.Description,
		k.KeyPrefix,
		k.KeyHash,
		permissionsJSON,
		k.RateLimit,
		whitelistJSON,
		k.IsActive,
		k.ExpiresAt,
		nullableJSON(k.CustomMetadata),
		k.CreatedAt,
		k.UpdatedAt,
	)
	return mapError(err)
}

// GetAPIKeyByHash retrieves an API key by the digest of its plaintext
func (r *APIKeyRepository) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	return r.getOne(ctx, "key_hash", keyHash)
}

// GetAPIKeyByID retrieves an API key by ID
func (r *APIKeyRepository) GetAPIKeyByID(ctx context.Context, id string) (*models.APIKey, error) {
	return r.getOne(ctx, "id", id)
}

// ListUserAPIKeys returns a user's keys, newest first
func (r *APIKeyRepository) ListUserAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`
	return r.queryKeys(ctx, query, userID)
}

// UpdateAPIKey writes the editable settings of a key. Lifecycle and usage
// columns are left alone.
func (r *APIKeyRepository) UpdateAPIKey(ctx context.Context, k *models.APIKey) error {
	k.UpdatedAt = time.Now().UTC()

	permissionsJSON, err := marshalStrings(k.Permissions)
	if err != nil {
		return err
	}
	whitelistJSON, err := whitelistArg(k.IPWhitelist)
	if err != nil {
		return err
	}

	query := `
		UPDATE api_keys
		SET name = $2, description = $3, permissions = $4, rate_limit = $5, ip_whitelist = $6,
			expires_at = $7, custom_metadata = $8, updated_at = $9
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		k.ID,
		k.Name,
		k.Description,
		permissionsJSON,
		k.RateLimit,
		whitelistJSON,
		k.ExpiresAt,
		nullableJSON(k.CustomMetadata),
		k.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// RevokeAPIKey sets is_active, revoked_at and revoked_reason together.
// ErrNotFound means the key does not exist or was already revoked.
func (r *APIKeyRepository) RevokeAPIKey(ctx context.Context, id, reason string, at time.Time) error {
	var reasonArg *string
	if reason != "" {
		reasonArg = &reason
	}

	query := `
		UPDATE api_keys
		SET is_active = FALSE, revoked_at = $2, revoked_reason = $3, updated_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, at, reasonArg)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// RecordUsage counts one request against a key that is still valid at now,
// incrementing usage_count and request_count_today and stamping last_used_at and
// last_request_at in a single statement. ErrNotFound means the key stopped being
// valid (or vanished) since it was read.
func (r *APIKeyRepository) RecordUsage(ctx context.Context, id string, now time.Time) (usageCount, requestsToday int64, err error) {
	query := `
		UPDATE api_keys
		SET usage_count = usage_count + 1,
			request_count_today = request_count_today + 1,
			last_used_at = $2,
			last_request_at = $2
		WHERE id = $1
		  AND is_active
		  AND revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at >= $2)
		RETURNING usage_count, request_count_today
	`
	err = r.db.QueryRowxContext(ctx, query, id, now).Scan(&usageCount, &requestsToday)
	if err == sql.ErrNoRows {
		return 0, 0, ErrNotFound
	}
	return usageCount, requestsToday, err
}

// ResetDailyRequestCounts zeroes request_count_today on every key and returns
// how many keys were reset.
func (r *APIKeyRepository) ResetDailyRequestCounts(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET request_count_today = 0 WHERE request_count_today <> 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FindExpiringKeys returns active keys that expire within warningDays days and
// have not yet had an expiry notification sent.
func (r *APIKeyRepository) FindExpiringKeys(ctx context.Context, warningDays int) ([]*models.APIKey, error) {
	now := time.Now().UTC()
	cutoff := now.Add(time.Duration(warningDays) * 24 * time.Hour)
	query := `SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE expires_at IS NOT NULL
		  AND expires_at > $1
		  AND expires_at <= $2
		  AND expiry_notification_sent_at IS NULL
		  AND is_active
		  AND revoked_at IS NULL
		ORDER BY expires_at ASC`
	return r.queryKeys(ctx, query, now, cutoff)
}

// MarkExpiryNotificationSent records that the expiry warning for a key went out.
func (r *APIKeyRepository) MarkExpiryNotificationSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET expiry_notification_sent_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	return err
}

// DeleteAPIKey physically removes a key; its activity log goes with it.
func (r *APIKeyRepository) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteUserAPIKeys removes every key a user owns and returns how many went.
func (r *APIKeyRepository) DeleteUserAPIKeys(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *APIKeyRepository) queryKeys(ctx context.Context, query string, args ...interface{}) ([]*models.APIKey, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
