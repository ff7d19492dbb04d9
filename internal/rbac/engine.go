package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"trustcore.org/internal/audit"
	"trustcore.org/internal/ids"
	"trustcore.org/internal/obs"
)

// Engine answers permission checks and manages the catalog, roles, grants
// and assignments. Every Check appends an audit record regardless of
// outcome.
type Engine struct {
	store Store
	log   *audit.Log
	now   func() time.Time
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

// NewEngine constructs an Engine over the given store.
func NewEngine(store Store, log *audit.Log, opts ...EngineOption) *Engine {
	e := &Engine{
		store: store,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check resolves whether the principal holds the permission right now.
// Resolution order is fixed: direct grants first, then directly assigned
// roles, then inherited roles. The first source that grants wins.
func (e *Engine) Check(ctx context.Context, principalID, permissionID string, rc RequestContext) (Decision, error) {
	if rc.Timestamp.IsZero() {
		rc.Timestamp = e.now().UTC()
	}

	if _, err := e.store.GetPermission(ctx, permissionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return e.record(ctx, principalID, permissionID, rc, Decision{Reason: ReasonUnknownPermission}), nil
		}
		return Decision{}, fmt.Errorf("rbac store: %w", err)
	}

	// Direct grants: conditions and expiry apply only here.
	grants, err := e.store.GrantsFor(ctx, principalID)
	if err != nil {
		return Decision{}, fmt.Errorf("rbac store: %w", err)
	}
	for _, g := range grants {
		if g.PermissionID != permissionID || g.Expired(rc.Timestamp) {
			continue
		}
		if evaluateAll(g.Conditions, rc) {
			return e.record(ctx, principalID, permissionID, rc, Decision{Granted: true, Via: ViaDirect}), nil
		}
	}

	roleIDs, err := e.store.RolesFor(ctx, principalID)
	if err != nil {
		return Decision{}, fmt.Errorf("rbac store: %w", err)
	}

	// Directly assigned roles.
	direct := make([]Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		role, err := e.store.GetRole(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return Decision{}, fmt.Errorf("rbac store: %w", err)
		}
		direct = append(direct, role)
		if containsString(role.Permissions, permissionID) {
			return e.record(ctx, principalID, permissionID, rc, Decision{Granted: true, Via: ViaRole, RoleID: role.ID}), nil
		}
	}

	// Inherited roles, breadth-first with a visited set so diamond graphs
	// terminate.
	visited := make(map[string]bool, len(direct))
	queue := make([]string, 0, len(direct))
	for _, role := range direct {
		visited[role.ID] = true
		queue = append(queue, role.Inherits...)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		role, err := e.store.GetRole(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return Decision{}, fmt.Errorf("rbac store: %w", err)
		}
		if containsString(role.Permissions, permissionID) {
			return e.record(ctx, principalID, permissionID, rc, Decision{Granted: true, Via: ViaInherited, RoleID: role.ID}), nil
		}
		queue = append(queue, role.Inherits...)
	}

	return e.record(ctx, principalID, permissionID, rc, Decision{Reason: ReasonInsufficientPermission}), nil
}

// GrantRequest describes a direct grant to create.
type GrantRequest struct {
	PrincipalID  string
	PermissionID string
	GrantedBy    string
	ExpiresAt    time.Time
	Conditions   []Condition
}

// Grant creates a direct grant. Every permission the target depends on must
// already be held by the principal, by any resolution path; conditions and
// expiry are ignored for that validation since they vary per request.
func (e *Engine) Grant(ctx context.Context, req GrantRequest) (Grant, error) {
	if strings.TrimSpace(req.PrincipalID) == "" || strings.TrimSpace(req.PermissionID) == "" {
		return Grant{}, fmt.Errorf("%w: principal and permission required", ErrInvalidInput)
	}
	perm, err := e.store.GetPermission(ctx, req.PermissionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Grant{}, fmt.Errorf("%w: %s", ErrUnknownPermission, req.PermissionID)
		}
		return Grant{}, fmt.Errorf("rbac store: %w", err)
	}

	held, err := e.heldPermissions(ctx, req.PrincipalID)
	if err != nil {
		return Grant{}, err
	}
	for _, dep := range perm.DependsOn {
		if !held[dep] {
			return Grant{}, fmt.Errorf("%w: %s requires %s", ErrMissingDependency, perm.ID, dep)
		}
	}

	g := Grant{
		ID:           ids.New(),
		PrincipalID:  req.PrincipalID,
		PermissionID: req.PermissionID,
		GrantedBy:    req.GrantedBy,
		GrantedAt:    e.now().UTC(),
		ExpiresAt:    req.ExpiresAt,
		Conditions:   req.Conditions,
	}
	if err := e.store.PutGrant(ctx, g); err != nil {
		return Grant{}, fmt.Errorf("rbac store: %w", err)
	}
	e.appendEvent(ctx, req.PrincipalID, "rbac.grant", audit.SeverityMedium, map[string]string{
		"permission_id": req.PermissionID,
		"granted_by":    req.GrantedBy,
	})
	return g, nil
}

// Revoke removes a direct grant. Dependents are left in place: revocation
// never cascades.
func (e *Engine) Revoke(ctx context.Context, principalID, permissionID, actorID string) error {
	if err := e.store.DeleteGrant(ctx, principalID, permissionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: no grant of %s", ErrNotFound, permissionID)
		}
		return fmt.Errorf("rbac store: %w", err)
	}
	e.appendEvent(ctx, principalID, "rbac.revoke", audit.SeverityMedium, map[string]string{
		"permission_id": permissionID,
		"revoked_by":    actorID,
	})
	return nil
}

// DefinePermission publishes a new permission. Identifiers are immutable:
// redefining an existing one is rejected.
func (e *Engine) DefinePermission(ctx context.Context, p Permission) error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: permission id and name required", ErrInvalidInput)
	}
	if _, err := e.store.GetPermission(ctx, p.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrPermissionExists, p.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("rbac store: %w", err)
	}
	for _, dep := range p.DependsOn {
		if _, err := e.store.GetPermission(ctx, dep); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: dependency %s", ErrUnknownPermission, dep)
			}
			return fmt.Errorf("rbac store: %w", err)
		}
	}
	if err := e.store.PutPermission(ctx, p); err != nil {
		return fmt.Errorf("rbac store: %w", err)
	}
	return nil
}

// DefineRole creates or replaces a role. Inherited roles must already exist
// and the resulting graph must stay acyclic; a definition that would make
// the role reach itself is rejected before anything is stored.
func (e *Engine) DefineRole(ctx context.Context, r Role) error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: role id required", ErrInvalidInput)
	}
	for _, pid := range r.Permissions {
		if _, err := e.store.GetPermission(ctx, pid); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownPermission, pid)
			}
			return fmt.Errorf("rbac store: %w", err)
		}
	}
	for _, parent := range r.Inherits {
		if parent == r.ID {
			return fmt.Errorf("%w: %s inherits itself", ErrInheritanceCycle, r.ID)
		}
		if _, err := e.store.GetRole(ctx, parent); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownRole, parent)
			}
			return fmt.Errorf("rbac store: %w", err)
		}
	}
	// Walk the would-be graph from the new definition; reaching r.ID again
	// means the update closes a cycle.
	visited := make(map[string]bool)
	queue := append([]string(nil), r.Inherits...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == r.ID {
			return fmt.Errorf("%w: via %s", ErrInheritanceCycle, r.ID)
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		role, err := e.store.GetRole(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return fmt.Errorf("rbac store: %w", err)
		}
		queue = append(queue, role.Inherits...)
	}
	if err := e.store.PutRole(ctx, r); err != nil {
		return fmt.Errorf("rbac store: %w", err)
	}
	return nil
}

// AssignRole adds the principal to a role.
func (e *Engine) AssignRole(ctx context.Context, principalID, roleID, actorID string) error {
	if _, err := e.store.GetRole(ctx, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownRole, roleID)
		}
		return fmt.Errorf("rbac store: %w", err)
	}
	if err := e.store.Assign(ctx, principalID, roleID); err != nil {
		return fmt.Errorf("rbac store: %w", err)
	}
	e.appendEvent(ctx, principalID, "rbac.role_assigned", audit.SeverityMedium, map[string]string{
		"role_id":     roleID,
		"assigned_by": actorID,
	})
	return nil
}

// RemoveRole removes the principal from a role.
func (e *Engine) RemoveRole(ctx context.Context, principalID, roleID, actorID string) error {
	if err := e.store.Unassign(ctx, principalID, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s not assigned", ErrNotFound, roleID)
		}
		return fmt.Errorf("rbac store: %w", err)
	}
	e.appendEvent(ctx, principalID, "rbac.role_removed", audit.SeverityMedium, map[string]string{
		"role_id":    roleID,
		"removed_by": actorID,
	})
	return nil
}

// Permissions lists the catalog.
func (e *Engine) Permissions(ctx context.Context) ([]Permission, error) {
	return e.store.ListPermissions(ctx)
}

// Roles lists all defined roles.
func (e *Engine) Roles(ctx context.Context) ([]Role, error) {
	return e.store.ListRoles(ctx)
}

// GrantsFor lists the principal's direct grants.
func (e *Engine) GrantsFor(ctx context.Context, principalID string) ([]Grant, error) {
	return e.store.GrantsFor(ctx, principalID)
}

// Snapshot returns the sorted set of permission ids the principal could
// hold, ignoring conditions. Used to stamp sessions at login; the live
// Check remains authoritative for enforcement.
func (e *Engine) Snapshot(ctx context.Context, principalID string) ([]string, error) {
	held, err := e.heldPermissions(ctx, principalID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(held))
	for id := range held {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// heldPermissions resolves every permission the principal holds through any
// path, skipping expired grants but ignoring conditions.
func (e *Engine) heldPermissions(ctx context.Context, principalID string) (map[string]bool, error) {
	held := make(map[string]bool)
	now := e.now().UTC()

	grants, err := e.store.GrantsFor(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("rbac store: %w", err)
	}
	for _, g := range grants {
		if !g.Expired(now) {
			held[g.PermissionID] = true
		}
	}

	roleIDs, err := e.store.RolesFor(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("rbac store: %w", err)
	}
	visited := make(map[string]bool)
	queue := append([]string(nil), roleIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		role, err := e.store.GetRole(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("rbac store: %w", err)
		}
		for _, pid := range role.Permissions {
			held[pid] = true
		}
		queue = append(queue, role.Inherits...)
	}
	return held, nil
}

func (e *Engine) record(ctx context.Context, principalID, permissionID string, rc RequestContext, d Decision) Decision {
	decision := "denied"
	if d.Granted {
		decision = "granted"
	}
	if e.log != nil {
		e.log.AppendCheck(ctx, audit.Check{
			PrincipalID:  principalID,
			PermissionID: permissionID,
			Decision:     decision,
			Reason:       d.Reason,
			Origin:       rc.Origin,
		})
	}
	obs.ObservePermissionCheck(decision)
	return d
}

func (e *Engine) appendEvent(ctx context.Context, principalID, kind string, sev audit.Severity, meta map[string]string) {
	if e.log == nil {
		return
	}
	e.log.Append(ctx, audit.Event{
		PrincipalID: principalID,
		Kind:        kind,
		Severity:    sev,
		Metadata:    meta,
	})
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
