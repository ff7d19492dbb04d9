package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trustcore.org/internal/audit"
	"trustcore.org/internal/crypto"
	"trustcore.org/internal/ids"
	"trustcore.org/internal/lockout"
	"trustcore.org/internal/obs"
	"trustcore.org/internal/rbac"
	"trustcore.org/internal/session"
	"trustcore.org/internal/twofactor"
)

const (
	// sessionSoftLimit triggers the many-sessions warning, it never blocks.
	sessionSoftLimit = 5
	// backupCodeWarnAt triggers the low-backup-codes warning.
	backupCodeWarnAt = 3
)

// Engine runs the login flow end to end.
type Engine struct {
	principals   PrincipalStore
	attempts     AttemptStore
	guard        *lockout.Guard
	sessions     *session.Store
	secondFactor *twofactor.Service
	authz        *rbac.Engine
	tokens       *TokenIssuer
	log          *audit.Log
	now          func() time.Time
}

// EngineOption configures Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine wires the login flow together.
func NewEngine(
	principals PrincipalStore,
	attempts AttemptStore,
	guard *lockout.Guard,
	sessions *session.Store,
	secondFactor *twofactor.Service,
	authz *rbac.Engine,
	tokens *TokenIssuer,
	log *audit.Log,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		principals:   principals,
		attempts:     attempts,
		guard:        guard,
		sessions:     sessions,
		secondFactor: secondFactor,
		authz:        authz,
		tokens:       tokens,
		log:          log,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoginRequest carries one authentication attempt.
type LoginRequest struct {
	Identifier       string             `json:"identifier"`
	Password         string             `json:"password"`
	SecondFactorCode string             `json:"second_factor_code,omitempty"`
	Device           session.DeviceInfo `json:"device"`
}

// Login authenticates a principal. Rejections come back as a Result, not an
// error; errors are reserved for infrastructure failures.
//
// The order is deliberate: blocked origins are rejected before the password
// is checked, so a locked-out attacker learns nothing about the credential.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (Result, error) {
	identifier := strings.TrimSpace(strings.ToLower(req.Identifier))
	origin := req.Device.Origin

	if e.guard.OriginBlocked(origin) {
		until, _ := e.guard.BlockedUntil(origin)
		e.appendEvent(ctx, "", "login.blocked_origin", audit.SeverityHigh, origin, map[string]string{
			"identifier": identifier,
		})
		obs.ObserveLogin("blocked")
		return Result{Status: StatusRejected, Reason: ReasonBlocked, RetryAfter: until}, nil
	}
	if e.guard.PrincipalBlocked(identifier) {
		e.appendEvent(ctx, "", "login.blocked_principal", audit.SeverityHigh, origin, map[string]string{
			"identifier": identifier,
		})
		obs.ObserveLogin("blocked")
		return Result{Status: StatusRejected, Reason: ReasonTooManyAttempts}, nil
	}

	principal, findErr := e.principals.FindByIdentifier(ctx, identifier)
	if findErr != nil && !errors.Is(findErr, ErrNotFound) {
		return Result{}, fmt.Errorf("principal store: %w", findErr)
	}

	if errors.Is(findErr, ErrNotFound) {
		// Derive against a throwaway hash so an unknown identifier costs
		// as much wall time as a wrong password.
		_ = VerifyPassword(dummyHash, req.Password)
		return e.rejectAndCount(ctx, "", identifier, origin, ReasonInvalidCredentials, "login.failed")
	}
	if VerifyPassword(principal.PasswordHash, req.Password) != nil {
		return e.rejectAndCount(ctx, principal.ID, identifier, origin, ReasonInvalidCredentials, "login.failed")
	}
	if principal.Status != "active" {
		return e.rejectAndCount(ctx, principal.ID, identifier, origin, ReasonInactiveAccount, "login.failed")
	}

	if e.secondFactor != nil && e.secondFactor.Enabled(ctx, principal.ID) {
		if req.SecondFactorCode == "" {
			return Result{Status: StatusSecondFactorRequired, PrincipalID: principal.ID}, nil
		}
		if err := e.secondFactor.Verify(ctx, principal.ID, req.SecondFactorCode); err != nil {
			if errors.Is(err, twofactor.ErrInvalidCode) {
				return e.rejectAndCount(ctx, principal.ID, identifier, origin,
					ReasonInvalidSecondFactor, "login.second_factor_failed")
			}
			return Result{}, err
		}
	}

	warnings := e.suspicionWarnings(ctx, principal.ID, req.Device)

	permissions, err := e.authz.Snapshot(ctx, principal.ID)
	if err != nil {
		return Result{}, err
	}
	sess, err := e.sessions.Create(ctx, principal.ID, req.Device, permissions)
	if err != nil {
		return Result{}, err
	}
	token, exp, err := e.tokens.Issue(principal.ID, sess.ID, permissions)
	if err != nil {
		return Result{}, err
	}

	e.recordAttempt(ctx, principal.ID, identifier, origin, true, "")
	e.guard.RecordAttempt(identifier, origin, true)
	e.appendEvent(ctx, principal.ID, "login.success", audit.SeverityLow, origin, map[string]string{
		"device_id": req.Device.DeviceID,
	})
	obs.ObserveLogin("success")

	return Result{
		Status:      StatusSuccess,
		SessionID:   sess.ID,
		AccessToken: token,
		ExpiresAt:   exp,
		PrincipalID: principal.ID,
		Permissions: permissions,
		Warnings:    warnings,
	}, nil
}

// dummyHash is verified against when no principal matches, so rejections
// for unknown identifiers and wrong passwords are indistinguishable in
// timing as well as in content.
var dummyHash, _ = HashPassword("timing-equalizer-never-matches")

// rejectAndCount records any failed authentication attempt, wrong password,
// inactive account or bad second factor alike, and feeds the lockout guard.
// Crossing the failure threshold upgrades the rejection to too_many_attempts.
func (e *Engine) rejectAndCount(ctx context.Context, principalID, identifier, origin, reason, kind string) (Result, error) {
	e.recordAttempt(ctx, principalID, identifier, origin, false, reason)
	if e.guard.RecordAttempt(identifier, origin, false) {
		until, _ := e.guard.BlockedUntil(origin)
		e.appendEvent(ctx, principalID, "login.lockout", audit.SeverityHigh, origin, map[string]string{
			"identifier": identifier,
		})
		obs.ObserveLockout()
		obs.ObserveLogin("blocked")
		return Result{Status: StatusRejected, Reason: ReasonTooManyAttempts, RetryAfter: until}, nil
	}
	e.appendEvent(ctx, principalID, kind, audit.SeverityMedium, origin, map[string]string{
		"identifier": identifier,
	})
	obs.ObserveLogin("failure")
	return Result{Status: StatusRejected, Reason: reason}, nil
}

// suspicionWarnings flags unusual but not disqualifying login circumstances.
// Each warning also lands in the audit log.
func (e *Engine) suspicionWarnings(ctx context.Context, principalID string, device session.DeviceInfo) []string {
	var warnings []string

	if origins := e.sessions.KnownOrigins(principalID); len(origins) > 0 && !origins[device.Origin] {
		warnings = append(warnings, WarnNewOrigin)
		e.appendEvent(ctx, principalID, "login.new_origin", audit.SeverityMedium, device.Origin, nil)
	}
	fp := crypto.Fingerprint(device.Origin, device.UserAgent, device.DeviceID)
	if known := e.sessions.KnownFingerprints(principalID); len(known) > 0 && !known[fp] {
		warnings = append(warnings, WarnNewDevice)
		e.appendEvent(ctx, principalID, "login.new_device", audit.SeverityMedium, device.Origin, map[string]string{
			"device_id": device.DeviceID,
		})
	}
	if n := e.sessions.ActiveCount(principalID); n >= sessionSoftLimit {
		warnings = append(warnings, WarnManySessions)
		e.appendEvent(ctx, principalID, "login.many_sessions", audit.SeverityMedium, device.Origin, map[string]string{
			"active": strconv.Itoa(n),
		})
	}
	if e.secondFactor != nil && e.secondFactor.Enabled(ctx, principalID) {
		if left := e.secondFactor.RemainingBackupCodes(ctx, principalID); left > 0 && left <= backupCodeWarnAt {
			warnings = append(warnings, WarnLowBackupCodes)
		}
	}
	return warnings
}

// AuthenticateToken resolves a bearer token to its live session. The
// session store is authoritative: a valid signature over a terminated or
// expired session is rejected.
func (e *Engine) AuthenticateToken(ctx context.Context, token string) (Claims, session.Session, error) {
	claims, err := e.tokens.Verify(token)
	if err != nil {
		return Claims{}, session.Session{}, err
	}
	sess, state := e.sessions.Validate(claims.SessionID)
	if state != session.StateActive {
		return Claims{}, session.Session{}, fmt.Errorf("%w: session %s", ErrInvalidSession, state)
	}
	if sess.PrincipalID != claims.Subject {
		return Claims{}, session.Session{}, ErrInvalidSession
	}
	return claims, sess, nil
}

// Logout terminates one session.
func (e *Engine) Logout(ctx context.Context, sessionID string) bool {
	return e.sessions.Terminate(ctx, sessionID, "logout")
}

// LogoutAll terminates every session of the principal.
func (e *Engine) LogoutAll(ctx context.Context, principalID, reason string) int {
	if reason == "" {
		reason = "logout_all"
	}
	return e.sessions.TerminateAll(ctx, principalID, reason)
}

// Register creates a principal with a hashed password.
func (e *Engine) Register(ctx context.Context, identifier, password string) (Principal, error) {
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	if identifier == "" {
		return Principal{}, errors.New("auth: identifier is required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Principal{}, err
	}
	p := Principal{
		ID:           ids.New(),
		Identifier:   identifier,
		PasswordHash: hash,
		Status:       "active",
		CreatedAt:    e.now().UTC(),
	}
	if err := e.principals.Create(ctx, p); err != nil {
		return Principal{}, fmt.Errorf("principal store: %w", err)
	}
	return p, nil
}

func (e *Engine) recordAttempt(ctx context.Context, principalID, identifier, origin string, success bool, reason string) {
	if e.attempts == nil {
		return
	}
	a := Attempt{
		ID:          ids.New(),
		PrincipalID: principalID,
		Identifier:  identifier,
		Origin:      origin,
		Success:     success,
		Reason:      reason,
		OccurredAt:  e.now().UTC(),
	}
	if err := e.attempts.Append(ctx, a); err != nil {
		obs.LogRequest(map[string]any{
			"level": "error",
			"msg":   "attempt store append failed",
			"error": err.Error(),
		})
	}
}

func (e *Engine) appendEvent(ctx context.Context, principalID, kind string, sev audit.Severity, origin string, meta map[string]string) {
	if e.log == nil {
		return
	}
	e.log.Append(ctx, audit.Event{
		PrincipalID: principalID,
		Kind:        kind,
		Severity:    sev,
		Origin:      origin,
		Metadata:    meta,
	})
}
