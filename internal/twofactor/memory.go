package twofactor

import (
	"context"
	"sync"
)

// MemoryStore keeps credentials in process memory.
// NOTE: swap for durable storage in multi-node deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

func (m *MemoryStore) Get(ctx context.Context, principalID string) (Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[principalID]
	if !ok {
		return Credential{}, ErrStoreNotFound
	}
	cred.BackupHashes = append([]string(nil), cred.BackupHashes...)
	return cred, nil
}

func (m *MemoryStore) Put(ctx context.Context, cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred.BackupHashes = append([]string(nil), cred.BackupHashes...)
	m.creds[cred.PrincipalID] = cred
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, principalID)
	return nil
}
