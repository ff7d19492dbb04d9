package rbac

import "context"

// Builtin permission ids used across the service.
const (
	PermContentView    = "content.view"
	PermContentCreate  = "content.create"
	PermContentPublish = "content.publish"
	PermDataExport     = "data.export"
	PermPluginsInstall = "plugins.install"
	PermAdminAccess    = "admin.access"
	PermAdminRBAC      = "admin.rbac.manage"
	PermAdminSessions  = "admin.sessions.revoke"
	PermAdminAudit     = "admin.audit.read"
)

// BuiltinPermissions is the catalog seeded at startup and by migrations.
var BuiltinPermissions = []Permission{
	{ID: PermContentView, Name: "View content", Category: "content", Sensitivity: SensitivityLow},
	{ID: PermContentCreate, Name: "Create content", Category: "content", Sensitivity: SensitivityMedium, DependsOn: []string{PermContentView}},
	{ID: PermContentPublish, Name: "Publish content", Category: "content", Sensitivity: SensitivityMedium, DependsOn: []string{PermContentCreate}},
	{ID: PermDataExport, Name: "Export data", Category: "data", Sensitivity: SensitivityHigh, DependsOn: []string{PermContentView}},
	{ID: PermPluginsInstall, Name: "Install plugins", Category: "plugins", Sensitivity: SensitivityHigh, DependsOn: []string{PermAdminAccess}},
	{ID: PermAdminAccess, Name: "Access admin area", Category: "admin", Sensitivity: SensitivityHigh},
	{ID: PermAdminRBAC, Name: "Manage roles and grants", Category: "admin", Sensitivity: SensitivityCritical, DependsOn: []string{PermAdminAccess}},
	{ID: PermAdminSessions, Name: "Revoke sessions", Category: "admin", Sensitivity: SensitivityCritical, DependsOn: []string{PermAdminAccess}},
	{ID: PermAdminAudit, Name: "Read audit log", Category: "admin", Sensitivity: SensitivityHigh, DependsOn: []string{PermAdminAccess}},
}

// BuiltinRoles is the default role hierarchy: viewer -> editor -> admin.
var BuiltinRoles = []Role{
	{ID: "viewer", Name: "Viewer", Permissions: []string{PermContentView}},
	{ID: "editor", Name: "Editor", Permissions: []string{PermContentCreate, PermContentPublish}, Inherits: []string{"viewer"}},
	{ID: "admin", Name: "Administrator", Permissions: []string{PermAdminAccess, PermAdminRBAC, PermAdminSessions, PermAdminAudit, PermDataExport, PermPluginsInstall}, Inherits: []string{"editor"}},
}

// Bootstrap seeds the builtin catalog and roles, skipping anything already
// defined so restarts are idempotent.
func (e *Engine) Bootstrap(ctx context.Context) error {
	for _, p := range BuiltinPermissions {
		if _, err := e.store.GetPermission(ctx, p.ID); err == nil {
			continue
		}
		if err := e.store.PutPermission(ctx, p); err != nil {
			return err
		}
	}
	for _, r := range BuiltinRoles {
		if _, err := e.store.GetRole(ctx, r.ID); err == nil {
			continue
		}
		if err := e.DefineRole(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
