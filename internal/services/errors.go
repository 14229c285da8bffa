// Package services implements the account flows that coordinate several repositories: API key
// issuance and validation, user registration and login, project lifecycle and quotas, and the
// transactional removal of a user together with everything that references them.
package services

import "errors"

var (
	// ErrInvalidAPIKey covers unknown, expired, revoked and disabled keys alike.
	ErrInvalidAPIKey      = errors.New("invalid api key")
	ErrRateLimited        = errors.New("api key rate limit exceeded")
	ErrIPNotAllowed       = errors.New("client address is not in the api key whitelist")
	ErrInvalidIPWhitelist = errors.New("invalid ip whitelist entry")
	ErrAPIKeyNotFound     = errors.New("api key not found")

	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserInactive       = errors.New("user account is not active")
	ErrInvalidResetToken  = errors.New("invalid or expired password reset token")
	ErrRoleNotFound       = errors.New("role not found")

	ErrProjectNotFound = errors.New("project not found")
	ErrQuotaExceeded   = errors.New("tier quota exceeded")
	ErrUnknownTier     = errors.New("unknown tier")
)
