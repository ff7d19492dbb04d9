package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"trustcore.org/internal/audit"
)

func newTestEngine(t *testing.T, current *time.Time) *Engine {
	t.Helper()
	clock := func() time.Time { return *current }
	log := audit.NewLog(audit.WithClock(clock))
	e := NewEngine(NewMemory(), log, WithClock(clock))
	if err := e.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return e
}

func testTime() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestDirectGrantResolves(t *testing.T) {
	current := testTime()
	e := newTestEngine(t, &current)
	ctx := context.Background()

	if _, err := e.Grant(ctx, GrantRequest{PrincipalID: "alice", PermissionID: PermContentView, GrantedBy: "root"}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	d, err := e.Check(ctx, "alice", PermContentView, RequestContext{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Granted || d.Via != ViaDirect {
		t.Fatalf("expected direct grant, got %+v", d)
	}
}

func TestDenyWithoutAnyPath(t *testing.T) {
	current := testTime()
	e := newTestEngine(t, &current)

	d, err := e.Check(context.Background(), "alice", PermDataExport, RequestContext{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Granted || d.Reason != ReasonInsufficientPermission {
		t.Fatalf("expected insufficient_permission denial, got %+v", d)
	}
}

func TestUnknownPermissionDenies(t *testing.T) {
	current := testTime()
	e := newTestEngine(t, &current)

	d, err := e.Check(context.Background(), "alice", "no.such.permission", RequestContext{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Granted || d.Reason != ReasonUnknownPermission {
		t.Fatalf("expected unknown_permission denial, got %+v", d)
	}
}

func TestRoleAndTransitiveInheritance(t *testing.T) {
	current := testTime()
	e := newTestEngine(t, &current)
	ctx := context.Background()

	// admin inherits editor, editor inherits viewer.
	if err := e.AssignRole(ctx, "alice", "admin", "root"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	d, _ := e.Check(ctx, "alice", PermAdminRBAC, RequestContext{})
	if !d.Granted || d.Via != ViaRole || d.RoleID != "admin" {
		t.Fatalf("expected role grant via admin, got %+v", d)
	}
	d, _ = e.Check(ctx, "alice", PermContentPublish, RequestContext{})
	if !d.Granted || d.Via != ViaInherited || d.RoleID != "editor" {
		t.Fatalf("expected inherited grant via editor, got %+v", d)
	}
	d, _ = e.Check(ctx, "alice", PermContentView, RequestContext{})
	if !d.Granted || d.Via != ViaInherited || d.RoleID != "viewer" {
		t.Fatalf("expected transitive inherited grant via viewer, got %+v", d)
	}
}

func TestGrantRequiresDependencies(t *testing.T) {
	current := testTime()
	e := newTestEngine(t, &current)
	ctx := context.Background()

	_, err := e.Grant(ctx, GrantRequest{PrincipalID: "alice", PermissionID: PermDataExport, GrantedBy: "root"})
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}

	// Dependency satisfied through a role is enough.
	if err := e.AssignRole(ctx, "alice", "viewer", "root"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if _, err := e.Grant(ctx, GrantRequest{PrincipalID: "alice", PermissionID: PermDataExport, GrantedBy: "root"}); err != nil {
		t.Fatalf("Grant after dependency met: %v", err)
	}
}

func TestRevokeDoesNotCascade(t *testing.T) {
	current := testTime()
	e := newTestEngine(t, &current)
	ctx := context.Background()

	if _, err := e.Grant(ctx, GrantRequest{PrincipalID: "alice", PermissionID: PermContentView, GrantedBy: "root"}); err != nil {
		t.Fatalf("Grant view: %v", err)
	}
	if _, err := e.Grant(ctx, GrantRequest{PrincipalID: "alice", PermissionID: PermDataExport, GrantedBy: "root"}); err != nil {
		t.Fatalf("Grant export: %v", err)
	}
	if err := e.Revoke(ctx, "alice", PermContentView, "root"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	d, _ := e.Check(ctx, "alice", PermDataExport, RequestContext{})
	if !d.Granted {
		t.Fatal("revoking a dependency must not cascade to dependents")
	}
	d, _ = e.Check(ctx, "alice", PermContentView, RequestContext{})
	if d.Granted {
		t.Fatal("revoked permission must no longer resolve")
	}
}

func TestExpiredGrantDenies(t *testing.T) {
	current := testTime()
	e := newTestEngine(t, &current)
	ctx := context.Background()

	if _, err := e.Grant(ctx, GrantRequest{
		PrincipalID:  "alice",
		PermissionID: PermContentView,
		GrantedBy:    "root",
		ExpiresAt:    current.Add(time.Hour),
	}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	d, _ := e.Check(ctx, "alice", PermContentView, RequestContext{})
	if !d.Granted {
		t.Fatal("grant should resolve before expiry")
	}
	current = current.Add(2 * time.Hour)
	d, _ = e.Check(ctx, "alice", PermContentView, RequestContext{})
	if d.Granted {
		t.Fatal("expired grant must deny")
	}
}

func TestTemporalConditionDeniesOutsideWindow(t *testing.T) {
	current := testTime()
	e := newTestEngine(t, &current)
	ctx := context.Background()

	if _, err := e.Grant(ctx, GrantRequest{
		PrincipalID:  "alice",
		PermissionID: PermContentView,
		GrantedBy:    "root",
		Conditions:   []Condition{TemporalCondition{Start: "09:00", End: "18:00"}},
	}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	d, _ := e.Check(ctx, "alice", PermContentView, RequestContext{Timestamp: current})
	if !d.Granted {
		t.Fatal("12:00 is inside the business-hours window")
	}
	late := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	d, _ = e.Check(ctx, "alice", PermContentView, RequestContext{Timestamp: late})
	if d.Granted {
		t.Fatal("22:00 is outside the window; check must deny")
	}
}

func TestConditionOnlyLimitsDirectGrant(t *testing.T) {
	current := testTime()
	e := newTestEngine(t, &current)
	ctx := context.Background()

	if err := e.AssignRole(ctx, "alice", "viewer", "root"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if _, err := e.Grant(ctx, GrantRequest{
		PrincipalID:  "alice",
		PermissionID: PermContentView,
		GrantedBy:    "root",
		Conditions:   []Condition{NetworkCondition{Prefixes: []string{"10.0.0.0/8"}}},
	}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	// Direct grant fails its network condition, but the role still grants.
	d, _ := e.Check(ctx, "alice", PermContentView, RequestContext{Origin: "203.0.113.9"})
	if !d.Granted || d.Via != ViaRole {
		t.Fatalf("expected role fallback when conditions fail, got %+v", d)
	}
	d, _ = e.Check(ctx, "alice", PermContentView, RequestContext{Origin: "10.1.2.3"})
	if !d.Granted || d.Via != ViaDirect {
		t.Fatalf("expected direct grant inside the prefix, got %+v", d)
	}
}

func TestDefineRoleRejectsCycle(t *testing.T) {
	current := testTime()
	e := newTestEngine(t, &current)
	ctx := context.Background()

	if err := e.DefineRole(ctx, Role{ID: "auditor", Name: "Auditor", Inherits: []string{"viewer"}}); err != nil {
		t.Fatalf("DefineRole auditor: %v", err)
	}
	// Redefining viewer to inherit auditor closes viewer -> auditor -> viewer.
	err := e.DefineRole(ctx, Role{ID: "viewer", Name: "Viewer", Permissions: []string{PermContentView}, Inherits: []string{"auditor"}})
	if !errors.Is(err, ErrInheritanceCycle) {
		t.Fatalf("expected ErrInheritanceCycle, got %v", err)
	}
	// Self-reference is the trivial cycle.
	err = e.DefineRole(ctx, Role{ID: "loop", Name: "Loop", Inherits: []string{"loop"}})
	if !errors.Is(err, ErrInheritanceCycle) {
		t.Fatalf("expected ErrInheritanceCycle for self-inherit, got %v", err)
	}
}

func TestDefineRoleRejectsUnknownReferences(t *testing.T) {
	current := testTime()
	e := newTestEngine(t, &current)
	ctx := context.Background()

	if err := e.DefineRole(ctx, Role{ID: "x", Inherits: []string{"ghost"}}); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	if err := e.DefineRole(ctx, Role{ID: "x", Permissions: []string{"no.such"}}); !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("expected ErrUnknownPermission, got %v", err)
	}
}

func TestDefinePermissionImmutable(t *testing.T) {
	current := testTime()
	e := newTestEngine(t, &current)
	ctx := context.Background()

	err := e.DefinePermission(ctx, Permission{ID: PermContentView, Name: "View again"})
	if !errors.Is(err, ErrPermissionExists) {
		t.Fatalf("expected ErrPermissionExists, got %v", err)
	}
	err = e.DefinePermission(ctx, Permission{ID: "reports.run", Name: "Run reports", DependsOn: []string{"no.such"}})
	if !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("expected ErrUnknownPermission for bad dependency, got %v", err)
	}
	if err := e.DefinePermission(ctx, Permission{ID: "reports.run", Name: "Run reports", Sensitivity: SensitivityMedium, DependsOn: []string{PermContentView}}); err != nil {
		t.Fatalf("DefinePermission: %v", err)
	}
}

func TestSnapshotUnionsAllPaths(t *testing.T) {
	current := testTime()
	e := newTestEngine(t, &current)
	ctx := context.Background()

	if err := e.AssignRole(ctx, "alice", "editor", "root"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if _, err := e.Grant(ctx, GrantRequest{PrincipalID: "alice", PermissionID: PermDataExport, GrantedBy: "root"}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	snapshot, err := e.Snapshot(ctx, "alice")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	want := map[string]bool{
		PermContentView:    true, // inherited via viewer
		PermContentCreate:  true,
		PermContentPublish: true,
		PermDataExport:     true, // direct grant
	}
	if len(snapshot) != len(want) {
		t.Fatalf("unexpected snapshot %v", snapshot)
	}
	for _, id := range snapshot {
		if !want[id] {
			t.Fatalf("unexpected permission %s in snapshot %v", id, snapshot)
		}
	}
}

func TestChecksAreAudited(t *testing.T) {
	current := testTime()
	clock := func() time.Time { return current }
	log := audit.NewLog(audit.WithClock(clock))
	e := NewEngine(NewMemory(), log, WithClock(clock))
	if err := e.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	e.Check(context.Background(), "alice", PermContentView, RequestContext{Origin: "1.2.3.4"})
	checks := log.Checks(audit.Filter{PrincipalID: "alice"})
	if len(checks) != 1 {
		t.Fatalf("expected 1 audited check, got %d", len(checks))
	}
	c := checks[0]
	if c.PermissionID != PermContentView || c.Decision != "denied" || c.Origin != "1.2.3.4" {
		t.Fatalf("unexpected audited check %+v", c)
	}
}
