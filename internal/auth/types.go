// Package auth implements credential verification and the login flow:
// lockout checks, second factors, suspicion heuristics, session issuance
// and access tokens.
package auth

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("auth: not found")
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrInvalidSession = errors.New("auth: invalid session")
)

// Principal is an account that can authenticate.
type Principal struct {
	ID           string    `json:"id"`
	Identifier   string    `json:"identifier"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// PrincipalStore resolves accounts by login identifier.
type PrincipalStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (Principal, error)
	Find(ctx context.Context, id string) (Principal, error)
	Create(ctx context.Context, p Principal) error
}

// Attempt is one recorded authentication try.
type Attempt struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id,omitempty"`
	Identifier  string    `json:"identifier"`
	Origin      string    `json:"origin"`
	Success     bool      `json:"success"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// AttemptStore keeps the authentication attempt history.
type AttemptStore interface {
	Append(ctx context.Context, a Attempt) error
	Recent(ctx context.Context, identifier string, since time.Time) ([]Attempt, error)
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Status values for Result.
type Status string

const (
	StatusSuccess              Status = "success"
	StatusSecondFactorRequired Status = "second_factor_required"
	StatusRejected             Status = "rejected"
)

// Rejection reason codes. Credential failures share one generic code so the
// response does not reveal whether the identifier exists.
const (
	ReasonInvalidCredentials  = "invalid_credentials"
	ReasonBlocked             = "origin_blocked"
	ReasonTooManyAttempts     = "too_many_attempts"
	ReasonInvalidSecondFactor = "invalid_second_factor"
	ReasonInactiveAccount     = "inactive_account"
)

// Warning codes attached to successful logins by the suspicion heuristics.
const (
	WarnNewOrigin      = "new_origin"
	WarnNewDevice      = "new_device"
	WarnManySessions   = "many_active_sessions"
	WarnLowBackupCodes = "low_backup_codes"
)

// Result is the outcome of a Login call.
type Result struct {
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	RetryAfter  time.Time `json:"retry_after,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	AccessToken string    `json:"access_token,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	PrincipalID string    `json:"principal_id,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
}
