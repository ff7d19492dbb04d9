// Package rbac resolves permissions for principals: direct grants with
// attribute conditions, role membership, and role inheritance.
package rbac

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownPermission    = errors.New("rbac: unknown permission")
	ErrUnknownRole          = errors.New("rbac: unknown role")
	ErrMissingDependency    = errors.New("rbac: missing permission dependency")
	ErrInheritanceCycle     = errors.New("rbac: role inheritance cycle")
	ErrPermissionExists     = errors.New("rbac: permission already defined")
	ErrUnknownConditionKind = errors.New("rbac: unknown condition kind")
	ErrInvalidInput         = errors.New("rbac: invalid input")
	ErrNotFound             = errors.New("rbac: not found")
)

// Sensitivity classifies how dangerous a permission is when misused.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "low"
	SensitivityMedium   Sensitivity = "medium"
	SensitivityHigh     Sensitivity = "high"
	SensitivityCritical Sensitivity = "critical"
)

// Permission is a named capability. IDs are globally unique and never
// change meaning after publication. DependsOn lists permissions a
// principal must already hold before this one may be granted directly.
type Permission struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Category    string      `json:"category"`
	Sensitivity Sensitivity `json:"sensitivity"`
	DependsOn   []string    `json:"depends_on,omitempty"`
}

// Role bundles permissions and may inherit from other roles. Inherited
// permissions resolve transitively.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Inherits    []string `json:"inherits,omitempty"`
}

// Grant attaches a permission directly to a principal, optionally bounded
// by an expiry and request-time conditions.
type Grant struct {
	ID           string      `json:"id"`
	PrincipalID  string      `json:"principal_id"`
	PermissionID string      `json:"permission_id"`
	GrantedBy    string      `json:"granted_by"`
	GrantedAt    time.Time   `json:"granted_at"`
	ExpiresAt    time.Time   `json:"expires_at,omitempty"`
	Conditions   []Condition `json:"-"`
}

// Expired reports whether the grant's expiry has passed. A zero ExpiresAt
// means the grant does not expire.
func (g Grant) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && !now.Before(g.ExpiresAt)
}

// Decision is the outcome of a permission check.
type Decision struct {
	Granted bool   `json:"granted"`
	Via     string `json:"via,omitempty"`
	RoleID  string `json:"role_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

const (
	ViaDirect    = "direct"
	ViaRole      = "role"
	ViaInherited = "inherited"

	ReasonInsufficientPermission = "insufficient_permission"
	ReasonUnknownPermission      = "unknown_permission"
)

// Store persists the permission catalog, roles, direct grants, and role
// assignments.
type Store interface {
	PutPermission(ctx context.Context, p Permission) error
	GetPermission(ctx context.Context, id string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)

	PutRole(ctx context.Context, r Role) error
	GetRole(ctx context.Context, id string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)

	PutGrant(ctx context.Context, g Grant) error
	DeleteGrant(ctx context.Context, principalID, permissionID string) error
	GrantsFor(ctx context.Context, principalID string) ([]Grant, error)

	Assign(ctx context.Context, principalID, roleID string) error
	Unassign(ctx context.Context, principalID, roleID string) error
	RolesFor(ctx context.Context, principalID string) ([]string, error)
}
