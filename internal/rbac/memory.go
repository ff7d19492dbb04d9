package rbac

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store.
// NOTE: swap for durable storage in multi-node deployments.
type Memory struct {
	mu          sync.RWMutex
	permissions map[string]Permission
	roles       map[string]Role
	grants      map[string][]Grant          // principal -> grants
	assignments map[string]map[string]bool  // principal -> role ids
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		permissions: make(map[string]Permission),
		roles:       make(map[string]Role),
		grants:      make(map[string][]Grant),
		assignments: make(map[string]map[string]bool),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) PutPermission(ctx context.Context, p Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions[p.ID] = p
	return nil
}

func (m *Memory) GetPermission(ctx context.Context, id string) (Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.permissions[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPermissions(ctx context.Context) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutRole(ctx context.Context, r Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[r.ID] = r
	return nil
}

func (m *Memory) GetRole(ctx context.Context, id string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRoles(ctx context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutGrant(ctx context.Context, g Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.grants[g.PrincipalID]
	for i, existing := range list {
		if existing.PermissionID == g.PermissionID {
			list[i] = g
			return nil
		}
	}
	m.grants[g.PrincipalID] = append(list, g)
	return nil
}

func (m *Memory) DeleteGrant(ctx context.Context, principalID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.grants[principalID]
	for i, g := range list {
		if g.PermissionID == permissionID {
			m.grants[principalID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) GrantsFor(ctx context.Context, principalID string) ([]Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Grant(nil), m.grants[principalID]...), nil
}

func (m *Memory) Assign(ctx context.Context, principalID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.assignments[principalID]
	if set == nil {
		set = make(map[string]bool)
		m.assignments[principalID] = set
	}
	set[roleID] = true
	return nil
}

func (m *Memory) Unassign(ctx context.Context, principalID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.assignments[principalID]
	if !set[roleID] {
		return ErrNotFound
	}
	delete(set, roleID)
	return nil
}

func (m *Memory) RolesFor(ctx context.Context, principalID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.assignments[principalID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
