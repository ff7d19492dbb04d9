// Package session owns the lifecycle of authenticated sessions: creation,
// sliding-window renewal, explicit termination and expiry.
package session

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"trustcore.org/internal/audit"
	"trustcore.org/internal/crypto"
	"trustcore.org/internal/obs"
)

const (
	defaultTimeout = 30 * time.Minute
	// sessionIDBytes gives 256 bits of entropy, double the required floor.
	sessionIDBytes = 32
	// inactiveRetention controls how long terminated sessions stay visible
	// to Validate (as Inactive) and to the suspicion heuristics.
	inactiveRetention = 24 * time.Hour
)

// DeviceInfo describes the client instance a session is bound to.
type DeviceInfo struct {
	DeviceID  string `json:"device_id"`
	Origin    string `json:"origin"`
	UserAgent string `json:"user_agent"`
}

// Session is one authenticated device/browser instance.
type Session struct {
	ID           string    `json:"id"`
	PrincipalID  string    `json:"principal_id"`
	DeviceID     string    `json:"device_id"`
	Origin       string    `json:"origin"`
	UserAgent    string    `json:"user_agent"`
	Fingerprint  string    `json:"fingerprint"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	Active       bool      `json:"active"`
	Permissions  []string  `json:"permissions,omitempty"`
}

// State classifies the outcome of Validate.
type State string

const (
	StateActive   State = "active"
	StateNotFound State = "not_found"
	StateExpired  State = "expired"
	StateInactive State = "inactive"
)

// Store holds sessions in process memory behind one mutex, which is what
// makes termination-wins ordering trivial to uphold.
// NOTE: swap for durable storage if sessions must survive restarts.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timeout  time.Duration
	log      *audit.Log
	now      func() time.Time
}

// Option configures Store.
type Option func(*Store)

// WithTimeout sets the sliding session timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewStore constructs an empty session store. Termination events are appended
// to log; pass nil to disable auditing (tests).
func NewStore(log *audit.Log, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		timeout:  defaultTimeout,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create issues a new session for the principal. The identifier comes from
// the platform CSPRNG; an entropy failure aborts session creation.
func (s *Store) Create(ctx context.Context, principalID string, device DeviceInfo, permissions []string) (Session, error) {
	id, err := crypto.RandomToken(sessionIDBytes)
	if err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	now := s.now().UTC()
	sess := &Session{
		ID:           id,
		PrincipalID:  principalID,
		DeviceID:     device.DeviceID,
		Origin:       device.Origin,
		UserAgent:    device.UserAgent,
		Fingerprint:  crypto.Fingerprint(device.Origin, device.UserAgent, device.DeviceID),
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.timeout),
		Active:       true,
		Permissions:  append([]string(nil), permissions...),
	}
	s.sessions[id] = sess
	active := s.activeCountLocked()
	s.mu.Unlock()

	obs.SetActiveSessions(active)
	return *sess, nil
}

// Validate resolves a session id. Expired sessions are marked inactive as a
// side effect; active sessions get their LastActivity bumped.
func (s *Store) Validate(sessionID string) (Session, State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, StateNotFound
	}
	now := s.now().UTC()
	if !sess.Active {
		return *sess, StateInactive
	}
	if !now.Before(sess.ExpiresAt) {
		sess.Active = false
		return *sess, StateExpired
	}
	sess.LastActivity = now
	return *sess, StateActive
}

// Renew slides the expiry forward from now. Returns false when the session
// is missing, expired or terminated; a terminated session is never revived.
func (s *Store) Renew(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || !sess.Active {
		return false
	}
	now := s.now().UTC()
	if !now.Before(sess.ExpiresAt) {
		sess.Active = false
		return false
	}
	sess.LastActivity = now
	sess.ExpiresAt = now.Add(s.timeout)
	return true
}

// Terminate deactivates one session and appends a SecurityEvent. Once this
// returns true, no later Validate call can report the session Active.
func (s *Store) Terminate(ctx context.Context, sessionID, reason string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || !sess.Active {
		s.mu.Unlock()
		return false
	}
	sess.Active = false
	snapshot := *sess
	active := s.activeCountLocked()
	s.mu.Unlock()

	obs.SetActiveSessions(active)
	s.appendTerminationEvent(ctx, snapshot, reason, audit.SeverityLow)
	return true
}

// TerminateAll deactivates every active session of a principal ("log out
// everywhere", credential-compromise response). Returns the number of
// sessions terminated.
func (s *Store) TerminateAll(ctx context.Context, principalID, reason string) int {
	s.mu.Lock()
	var terminated []Session
	for _, sess := range s.sessions {
		if sess.PrincipalID == principalID && sess.Active {
			sess.Active = false
			terminated = append(terminated, *sess)
		}
	}
	active := s.activeCountLocked()
	s.mu.Unlock()

	obs.SetActiveSessions(active)
	for _, sess := range terminated {
		s.appendTerminationEvent(ctx, sess, reason, audit.SeverityLow)
	}
	if len(terminated) > 0 && s.log != nil {
		s.log.Append(ctx, audit.Event{
			PrincipalID: principalID,
			Kind:        "session.mass_termination",
			Severity:    audit.SeverityHigh,
			Description: "all sessions terminated for principal",
			Metadata:    map[string]string{"count": strconv.Itoa(len(terminated)), "reason": reason},
		})
	}
	return len(terminated)
}

// ActiveCount reports the number of active sessions for a principal.
func (s *Store) ActiveCount(principalID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	n := 0
	for _, sess := range s.sessions {
		if sess.PrincipalID == principalID && sess.Active && now.Before(sess.ExpiresAt) {
			n++
		}
	}
	return n
}

// List returns copies of every session for a principal, newest first.
func (s *Store) List(principalID string) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Session
	for _, sess := range s.sessions {
		if sess.PrincipalID == principalID {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// KnownFingerprints returns the device fingerprints previously seen for a
// principal. Feeds the new-device suspicion heuristic.
func (s *Store) KnownFingerprints(principalID string) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]bool)
	for _, sess := range s.sessions {
		if sess.PrincipalID == principalID {
			out[sess.Fingerprint] = true
		}
	}
	return out
}

// KnownOrigins returns the origins previously seen for a principal.
func (s *Store) KnownOrigins(principalID string) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]bool)
	for _, sess := range s.sessions {
		if sess.PrincipalID == principalID {
			out[sess.Origin] = true
		}
	}
	return out
}

// Sweep marks expired sessions inactive and evicts inactive sessions past
// the retention horizon. Runs outside any request path.
func (s *Store) Sweep() {
	s.mu.Lock()
	now := s.now().UTC()
	for id, sess := range s.sessions {
		if sess.Active && !now.Before(sess.ExpiresAt) {
			sess.Active = false
		}
		if !sess.Active && now.Sub(sess.ExpiresAt) > inactiveRetention {
			delete(s.sessions, id)
		}
	}
	active := s.activeCountLocked()
	s.mu.Unlock()

	obs.SetActiveSessions(active)
}

func (s *Store) appendTerminationEvent(ctx context.Context, sess Session, reason string, severity audit.Severity) {
	if s.log == nil {
		return
	}
	s.log.Append(ctx, audit.Event{
		PrincipalID: sess.PrincipalID,
		Kind:        "session.terminated",
		Severity:    severity,
		Origin:      sess.Origin,
		Metadata:    map[string]string{"device_id": sess.DeviceID, "reason": reason},
	})
}

// activeCountLocked counts active sessions across all principals.
// Callers must hold s.mu.
func (s *Store) activeCountLocked() int {
	now := s.now().UTC()
	n := 0
	for _, sess := range s.sessions {
		if sess.Active && now.Before(sess.ExpiresAt) {
			n++
		}
	}
	return n
}

