package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryPrincipals is an in-process PrincipalStore.
// NOTE: swap for durable storage in multi-node deployments.
type MemoryPrincipals struct {
	mu   sync.RWMutex
	byID map[string]Principal
}

// NewMemoryPrincipals creates an empty store.
func NewMemoryPrincipals() *MemoryPrincipals {
	return &MemoryPrincipals{byID: make(map[string]Principal)}
}

var _ PrincipalStore = (*MemoryPrincipals)(nil)

func (m *MemoryPrincipals) FindByIdentifier(ctx context.Context, identifier string) (Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	for _, p := range m.byID {
		if p.Identifier == identifier {
			return p, nil
		}
	}
	return Principal{}, ErrNotFound
}

func (m *MemoryPrincipals) Find(ctx context.Context, id string) (Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryPrincipals) Create(ctx context.Context, p Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[p.ID] = p
	return nil
}

// MemoryAttempts keeps the attempt history in memory.
type MemoryAttempts struct {
	mu       sync.Mutex
	attempts []Attempt
}

// NewMemoryAttempts creates an empty store.
func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{}
}

var _ AttemptStore = (*MemoryAttempts)(nil)

func (m *MemoryAttempts) Append(ctx context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *MemoryAttempts) Recent(ctx context.Context, identifier string, since time.Time) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Attempt
	for _, a := range m.attempts {
		if a.Identifier == identifier && !a.OccurredAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryAttempts) Prune(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.attempts[:0]
	removed := 0
	for _, a := range m.attempts {
		if a.OccurredAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return removed, nil
}
