// activity_log_repository.go implements ActivityLogRepository, providing append and
// paginated read access to the api_key_activity_logs table.
package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ainative/accounts/internal/db/models"
)

// ActivityLogRepository handles API key activity log operations
type ActivityLogRepository struct {
	db DBTX
}

// NewActivityLogRepository creates a new ActivityLogRepository
func NewActivityLogRepository(db DBTX) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// CreateActivityLog appends an entry. Entries are never updated.
func (r *ActivityLogRepository) CreateActivityLog(ctx context.Context, entry *models.APIKeyActivityLog) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()

	var metadataJSON interface{}
	if entry.Metadata != nil {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadataJSON = b
	}

	query := `
		INSERT INTO api_key_activity_logs (id, api_key_id, action, ip_address, user_agent, endpoint, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.APIKeyID,
		entry.Action,
		entry.IPAddress,
		entry.UserAgent,
		entry.Endpoint,
		metadataJSON,
		entry.CreatedAt,
	)
	return mapError(err)
}

// ListActivityLogs returns a key's entries, newest first, and the total count.
func (r *ActivityLogRepository) ListActivityLogs(ctx context.Context, apiKeyID string, limit, offset int) ([]*models.APIKeyActivityLog, int, error) {
	var total int
	err := r.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM api_key_activity_logs WHERE api_key_id = $1`, apiKeyID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, api_key_id, action, ip_address, user_agent, endpoint, metadata, created_at
		FROM api_key_activity_logs
		WHERE api_key_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryxContext(ctx, query, apiKeyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]*models.APIKeyActivityLog, 0)
	for rows.Next() {
		entry := &models.APIKeyActivityLog{}
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.APIKeyID,
			&entry.Action,
			&entry.IPAddress,
			&entry.UserAgent,
			&entry.Endpoint,
			&metadataJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, 0, err
			}
		}
		logs = append(logs, entry)
	}

	return logs, total, rows.Err()
}
