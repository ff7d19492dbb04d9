// Package audit keeps the append-only record of security-relevant events.
// Authentication events and permission-check events share one bounded log,
// exposed as two typed views.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"trustcore.org/internal/ids"
	"trustcore.org/internal/obs"
)

// Severity grades an event for alerting and retention decisions.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is one security occurrence. Events are never mutated after Append.
type Event struct {
	ID          string            `json:"id"`
	PrincipalID string            `json:"principal_id,omitempty"`
	Kind        string            `json:"kind"`
	Severity    Severity          `json:"severity"`
	Description string            `json:"description,omitempty"`
	Origin      string            `json:"origin,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Check is the permission-audit view over the shared log.
type Check struct {
	ID           string    `json:"id"`
	PrincipalID  string    `json:"principal_id"`
	PermissionID string    `json:"permission_id"`
	Decision     string    `json:"decision"`
	Reason       string    `json:"reason,omitempty"`
	Origin       string    `json:"origin,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

const checkKind = "permission.check"

// Filter narrows Query results. Zero fields match everything.
type Filter struct {
	PrincipalID string
	Kind        string
	MinSeverity Severity
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Store persists events beyond process lifetime. The in-memory log remains
// authoritative for queries; persistence is best-effort mirroring.
type Store interface {
	Append(ctx context.Context, ev Event) error
}

// Notifier receives high and critical severity events, distinct from normal
// audit appends. It must not block.
type Notifier func(Event)

const defaultCapacity = 10000

// Log is the bounded in-memory audit log. Appends are ordered under one
// mutex; when capacity is reached the oldest entries are dropped.
type Log struct {
	mu       sync.Mutex
	entries  []Event
	capacity int
	persist  Store
	notify   Notifier
	now      func() time.Time
}

// Option configures Log.
type Option func(*Log)

// WithCapacity bounds the number of retained entries.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithPersistence mirrors appends into a durable store.
func WithPersistence(s Store) Option {
	return func(l *Log) { l.persist = s }
}

// WithNotifier installs the high-severity notification hook.
func WithNotifier(n Notifier) Option {
	return func(l *Log) { l.notify = n }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLog constructs an empty audit log.
func NewLog(opts ...Option) *Log {
	l := &Log{
		capacity: defaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records an event, emits it as a JSON log line and fires the
// notifier for high/critical severities. The stored event is immutable.
func (l *Log) Append(ctx context.Context, ev Event) Event {
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityLow
	}

	l.mu.Lock()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = l.now().UTC()
	}
	l.entries = append(l.entries, ev)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
	persist := l.persist
	notify := l.notify
	l.mu.Unlock()

	emit(ctx, ev)
	if persist != nil {
		// Mirror failure must not fail the security path that appended.
		if err := persist.Append(ctx, ev); err != nil {
			obs.LogRequest(map[string]any{
				"level": "error",
				"msg":   "audit persistence failed",
				"error": err.Error(),
			})
		}
	}
	if notify != nil && (ev.Severity == SeverityHigh || ev.Severity == SeverityCritical) {
		notify(ev)
	}
	return ev
}

// AppendCheck records a permission-check decision in the shared log.
func (l *Log) AppendCheck(ctx context.Context, c Check) Check {
	ev := l.Append(ctx, Event{
		ID:          c.ID,
		PrincipalID: c.PrincipalID,
		Kind:        checkKind,
		Severity:    SeverityLow,
		Origin:      c.Origin,
		OccurredAt:  c.OccurredAt,
		Metadata: map[string]string{
			"permission_id": c.PermissionID,
			"decision":      c.Decision,
			"reason":        c.Reason,
		},
	})
	c.ID = ev.ID
	c.OccurredAt = ev.OccurredAt
	return c
}

// Query returns events matching the filter, oldest first.
func (l *Log) Query(f Filter) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, ev := range l.entries {
		if !matches(ev, f) {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Checks returns the permission-audit view, oldest first.
func (l *Log) Checks(f Filter) []Check {
	f.Kind = checkKind
	events := l.Query(f)
	out := make([]Check, 0, len(events))
	for _, ev := range events {
		out = append(out, Check{
			ID:           ev.ID,
			PrincipalID:  ev.PrincipalID,
			PermissionID: ev.Metadata["permission_id"],
			Decision:     ev.Metadata["decision"],
			Reason:       ev.Metadata["reason"],
			Origin:       ev.Origin,
			OccurredAt:   ev.OccurredAt,
		})
	}
	return out
}

// Prune drops entries older than the cutoff and reports how many were removed.
func (l *Log) Prune(before time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := 0
	for idx < len(l.entries) && l.entries[idx].OccurredAt.Before(before) {
		idx++
	}
	if idx == 0 {
		return 0
	}
	l.entries = append([]Event(nil), l.entries[idx:]...)
	return idx
}

// Len reports the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func matches(ev Event, f Filter) bool {
	if f.PrincipalID != "" && ev.PrincipalID != f.PrincipalID {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	if f.MinSeverity != "" && severityRank(ev.Severity) < severityRank(f.MinSeverity) {
		return false
	}
	if !f.Since.IsZero() && ev.OccurredAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.OccurredAt.After(f.Until) {
		return false
	}
	return true
}

func severityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// emit writes the event as a single JSON log line. Session identifiers and
// second-factor secrets must never appear in event metadata.
func emit(ctx context.Context, ev Event) {
	entry := map[string]any{
		"ts":       ev.OccurredAt.Format(time.RFC3339Nano),
		"type":     "audit",
		"event":    ev.Kind,
		"severity": ev.Severity,
	}
	if ev.PrincipalID != "" {
		entry["principal_id"] = ev.PrincipalID
	}
	if ev.Origin != "" {
		entry["origin"] = ev.Origin
	}
	if ev.Description != "" {
		entry["description"] = ev.Description
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if len(ev.Metadata) > 0 {
		entry["fields"] = ev.Metadata
	}
	data, err := json.Marshal(entry)
	if err != nil {
		obs.Logger().Println(`{"ts":"error","level":"error","msg":"audit marshal failed"}`)
		return
	}
	obs.Logger().Println(string(data))
}
