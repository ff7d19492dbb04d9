// Package lockout tracks failed authentication attempts and applies timed
// blocks per network origin and per principal.
package lockout

import (
	"sync"
	"time"
)

const (
	defaultMaxAttempts     = 5
	defaultWindow          = 15 * time.Minute
	defaultLockoutDuration = 15 * time.Minute
)

type pairKey struct {
	principal string
	origin    string
}

type failureWindow struct {
	count int
	first time.Time
}

// Guard keeps rolling failure counts for (principal, origin) pairs and the
// blocks derived from them. All mutations happen under one mutex so two
// attempts racing past the threshold cannot both pass.
type Guard struct {
	mu sync.Mutex

	maxAttempts     int
	window          time.Duration
	lockoutDuration time.Duration
	now             func() time.Time

	failures          map[pairKey]*failureWindow
	blockedOrigins    map[string]time.Time
	blockedPrincipals map[string]time.Time
}

// Option configures Guard.
type Option func(*Guard)

// WithMaxAttempts sets the failure threshold within the rolling window.
func WithMaxAttempts(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithWindow sets the rolling window for counting failures.
func WithWindow(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.window = d
		}
	}
}

// WithLockoutDuration sets how long a block lasts.
func WithLockoutDuration(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.lockoutDuration = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(g *Guard) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewGuard constructs a Guard with default thresholds.
func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		maxAttempts:       defaultMaxAttempts,
		window:            defaultWindow,
		lockoutDuration:   defaultLockoutDuration,
		now:               time.Now,
		failures:          make(map[pairKey]*failureWindow),
		blockedOrigins:    make(map[string]time.Time),
		blockedPrincipals: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RecordAttempt records one authentication try. A success resets the failure
// count for the pair. A failure increments it; crossing the threshold blocks
// the origin and reports blocked=true exactly once per crossing.
func (g *Guard) RecordAttempt(principal, origin string, success bool) (blocked bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := pairKey{principal: principal, origin: origin}
	now := g.now()

	if success {
		delete(g.failures, key)
		return false
	}

	fw := g.failures[key]
	if fw == nil || now.Sub(fw.first) > g.window {
		fw = &failureWindow{first: now}
		g.failures[key] = fw
	}
	fw.count++

	if fw.count >= g.maxAttempts {
		until := now.Add(g.lockoutDuration)
		_, originAlready := g.activeBlock(g.blockedOrigins, origin, now)
		g.blockedOrigins[origin] = until
		g.blockedPrincipals[principal] = until
		return !originAlready
	}
	return false
}

// FailureCount returns the rolling failure count for the pair.
func (g *Guard) FailureCount(principal, origin string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	fw := g.failures[pairKey{principal: principal, origin: origin}]
	if fw == nil || g.now().Sub(fw.first) > g.window {
		return 0
	}
	return fw.count
}

// OriginBlocked reports whether the origin is currently blocked. Expired
// blocks are released lazily.
func (g *Guard) OriginBlocked(origin string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.activeBlock(g.blockedOrigins, origin, g.now())
	return ok
}

// PrincipalBlocked reports whether the principal is currently blocked.
func (g *Guard) PrincipalBlocked(principal string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.activeBlock(g.blockedPrincipals, principal, g.now())
	return ok
}

// BlockedUntil returns the expiry of an active origin block.
func (g *Guard) BlockedUntil(origin string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeBlock(g.blockedOrigins, origin, g.now())
}

// BlockOrigin applies an explicit block, independent of failure counts.
func (g *Guard) BlockOrigin(origin string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	until := g.now().Add(g.lockoutDuration)
	g.blockedOrigins[origin] = until
	return until
}

// Release removes any block for the origin (administrative unblock).
func (g *Guard) Release(origin string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.blockedOrigins, origin)
}

// Sweep drops expired blocks and stale failure windows. Request handling does
// not depend on it; lookups already expire lazily.
func (g *Guard) Sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for origin, until := range g.blockedOrigins {
		if !now.Before(until) {
			delete(g.blockedOrigins, origin)
		}
	}
	for principal, until := range g.blockedPrincipals {
		if !now.Before(until) {
			delete(g.blockedPrincipals, principal)
		}
	}
	for key, fw := range g.failures {
		if now.Sub(fw.first) > g.window {
			delete(g.failures, key)
		}
	}
}

// activeBlock reads a block entry and deletes it when expired.
// Callers must hold g.mu.
func (g *Guard) activeBlock(m map[string]time.Time, key string, now time.Time) (time.Time, bool) {
	until, ok := m[key]
	if !ok {
		return time.Time{}, false
	}
	if !now.Before(until) {
		delete(m, key)
		return time.Time{}, false
	}
	return until, true
}
