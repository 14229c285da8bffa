package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ainative/accounts/internal/auth"
	"github.com/ainative/accounts/internal/config"
	"github.com/ainative/accounts/internal/db/models"
	"github.com/ainative/accounts/internal/db/repositories"
	"github.com/ainative/accounts/internal/ratelimit"
	"github.com/ainative/accounts/internal/telemetry"
)

// RequestInfo describes the caller presenting a key. Empty fields are not recorded.
type RequestInfo struct {
	IP        string
	UserAgent string
	Endpoint  string
}

// CreateAPIKeyInput holds the caller-chosen settings of a new key. Zero values
// take the configured defaults.
type CreateAPIKeyInput struct {
	UserID         string
	Name           string
	Description    *string
	Permissions    []string
	RateLimit      int
	IPWhitelist    []string
	ExpiresAt      *time.Time
	CustomMetadata json.RawMessage
}

// CreatedAPIKey is returned once at creation. Plaintext is never stored and
// cannot be recovered afterwards.
type CreatedAPIKey struct {
	Key       *models.APIKey
	Plaintext string
}

// APIKeyService issues, validates and revokes API keys
type APIKeyService struct {
	keys     *repositories.APIKeyRepository
	activity *repositories.ActivityLogRepository
	limiter  ratelimit.Limiter // nil disables rate limiting
	cfg      config.APIKeysConfig
	now      func() time.Time
}

// NewAPIKeyService creates a new APIKeyService. limiter may be nil.
func NewAPIKeyService(keys *repositories.APIKeyRepository, activity *repositories.ActivityLogRepository, limiter ratelimit.Limiter, cfg config.APIKeysConfig) *APIKeyService {
	return &APIKeyService{
		keys:     keys,
		activity: activity,
		limiter:  limiter,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create generates a key for a user and stores its digest.
func (s *APIKeyService) Create(ctx context.Context, in CreateAPIKeyInput) (*CreatedAPIKey, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, errors.New("user id is required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errors.New("api key name is required")
	}

	perms := in.Permissions
	if len(perms) == 0 {
		perms = auth.DefaultAPIKeyPermissions()
	}
	if err := auth.ValidatePermissions(perms); err != nil {
		return nil, err
	}

	rateLimit := in.RateLimit
	if rateLimit == 0 {
		rateLimit = s.cfg.DefaultRateLimit
	}
	if rateLimit == 0 {
		rateLimit = models.DefaultRateLimit
	}
	if rateLimit < 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", rateLimit)
	}

	whitelist, err := normalizeWhitelist(in.IPWhitelist)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, errors.New("expiry must be in the future")
	}

	prefix := s.cfg.Prefix
	if prefix == "" {
		prefix = auth.DefaultKeyPrefix
	}
	plaintext, hash, displayPrefix, err := auth.GenerateAPIKey(prefix)
	if err != nil {
		return nil, err
	}

	key := &models.APIKey{
		UserID:         in.UserID,
		Name:           name,
		Description:    in.Description,
		KeyPrefix:      displayPrefix,
		KeyHash:        hash,
		Permissions:    perms,
		RateLimit:      rateLimit,
		IPWhitelist:    whitelist,
		IsActive:       true,
		ExpiresAt:      in.ExpiresAt,
		CustomMetadata: in.CustomMetadata,
	}
	if err := s.keys.CreateAPIKey(ctx, key); err != nil {
		if errors.Is(err, repositories.ErrForeignKeyViolation) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to create api key: %w", err)
	}

	s.record(ctx, key.ID, models.APIKeyActionCreated, RequestInfo{}, map[string]interface{}{
		"permissions": perms,
	})
	return &CreatedAPIKey{Key: key, Plaintext: plaintext}, nil
}

// Validate authenticates a presented key. Unknown, expired, revoked and
// disabled keys return ErrInvalidAPIKey. A key used from outside its whitelist
// returns ErrIPNotAllowed and one over its hourly allowance ErrRateLimited.
// Accepted requests are counted against the key before it is returned.
func (s *APIKeyService) Validate(ctx context.Context, plaintext string, req RequestInfo) (*models.APIKey, error) {
	start := time.Now()
	defer func() { telemetry.APIKeyValidationDuration.Observe(time.Since(start).Seconds()) }()

	key, err := s.keys.GetAPIKeyByHash(ctx, auth.HashAPIKey(plaintext))
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	if key == nil {
		telemetry.APIKeyValidationsTotal.WithLabelValues(telemetry.ValidationUnknown).Inc()
		return nil, ErrInvalidAPIKey
	}

	now := s.now()
	if state := key.StateAt(now); state != models.APIKeyStateActive {
		s.record(ctx, key.ID, models.APIKeyActionRejected, req, map[string]interface{}{"reason": string(state)})
		telemetry.APIKeyValidationsTotal.WithLabelValues(validationResult(state)).Inc()
		return nil, ErrInvalidAPIKey
	}

	if !ipAllowed(key.IPWhitelist, req.IP) {
		s.record(ctx, key.ID, models.APIKeyActionRejected, req, map[string]interface{}{"reason": telemetry.ValidationIPNotAllowed})
		telemetry.APIKeyValidationsTotal.WithLabelValues(telemetry.ValidationIPNotAllowed).Inc()
		return nil, ErrIPNotAllowed
	}

	if s.limiter != nil {
		res, err := s.limiter.Allow(ctx, "apikey:"+key.ID, key.RateLimit)
		switch {
		case err != nil:
			slog.Warn("rate limiter unavailable, allowing request", "api_key_id", key.ID, "error", err)
		case !res.Allowed:
			s.record(ctx, key.ID, models.APIKeyActionRateLimited, req, map[string]interface{}{
				"retry_after_seconds": int(res.RetryAfter.Seconds()),
			})
			telemetry.APIKeyValidationsTotal.WithLabelValues(telemetry.ValidationRateLimited).Inc()
			return nil, fmt.Errorf("%w: retry after %s", ErrRateLimited, res.RetryAfter.Round(time.Second))
		}
	}

	usageCount, requestsToday, err := s.keys.RecordUsage(ctx, key.ID, now)
	if errors.Is(err, repositories.ErrNotFound) {
		// revoked or removed between the lookup and the update
		telemetry.APIKeyValidationsTotal.WithLabelValues(telemetry.ValidationUnknown).Inc()
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record api key usage: %w", err)
	}
	key.UsageCount = usageCount
	key.RequestCountToday = requestsToday
	key.LastUsedAt = &now
	key.LastRequestAt = &now

	s.record(ctx, key.ID, models.APIKeyActionValidated, req, map[string]interface{}{"requests_today": requestsToday})
	telemetry.APIKeyValidationsTotal.WithLabelValues(telemetry.ValidationAccepted).Inc()
	return key, nil
}

// Revoke permanently disables a key. Revoking a key twice returns models.ErrAPIKeyRevoked.
func (s *APIKeyService) Revoke(ctx context.Context, id, reason string) (*models.APIKey, error) {
	key, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := key.Revoke(reason, now); err != nil {
		return nil, err
	}
	if err := s.keys.RevokeAPIKey(ctx, id, reason, now); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, models.ErrAPIKeyRevoked
		}
		return nil, fmt.Errorf("failed to revoke api key: %w", err)
	}

	var meta map[string]interface{}
	if reason != "" {
		meta = map[string]interface{}{"reason": reason}
	}
	s.record(ctx, id, models.APIKeyActionRevoked, RequestInfo{}, meta)
	telemetry.APIKeyRevocationsTotal.Inc()
	return key, nil
}

// Get returns a key by ID.
func (s *APIKeyService) Get(ctx context.Context, id string) (*models.APIKey, error) {
	key, err := s.keys.GetAPIKeyByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	if key == nil {
		return nil, ErrAPIKeyNotFound
	}
	return key, nil
}

// List returns a user's keys, newest first.
func (s *APIKeyService) List(ctx context.Context, userID string) ([]*models.APIKey, error) {
	return s.keys.ListUserAPIKeys(ctx, userID)
}

// ActivityLog returns a page of a key's history and the total entry count.
func (s *APIKeyService) ActivityLog(ctx context.Context, id string, limit, offset int) ([]*models.APIKeyActivityLog, int, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.activity.ListActivityLogs(ctx, id, limit, offset)
}

// Delete removes a key and its history.
func (s *APIKeyService) Delete(ctx context.Context, id string) error {
	if err := s.keys.DeleteAPIKey(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrAPIKeyNotFound
		}
		return err
	}
	return nil
}

// record appends an activity entry. A failed write is logged and otherwise ignored.
func (s *APIKeyService) record(ctx context.Context, keyID string, action models.APIKeyAction, req RequestInfo, meta map[string]interface{}) {
	entry := &models.APIKeyActivityLog{
		APIKeyID:  keyID,
		Action:    action,
		IPAddress: optional(req.IP),
		UserAgent: optional(req.UserAgent),
		Endpoint:  optional(req.Endpoint),
		Metadata:  meta,
	}
	if err := s.activity.CreateActivityLog(ctx, entry); err != nil {
		slog.Warn("failed to record api key activity", "api_key_id", keyID, "action", action, "error", err)
	}
}

func validationResult(state models.APIKeyState) string {
	switch state {
	case models.APIKeyStateExpired:
		return telemetry.ValidationExpired
	case models.APIKeyStateRevoked:
		return telemetry.ValidationRevoked
	case models.APIKeyStateDisabled:
		return telemetry.ValidationDisabled
	default:
		return telemetry.ValidationAccepted
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
