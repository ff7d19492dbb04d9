package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"trustcore.org/internal/rbac"
)

// RBAC implements rbac.Store. String slices live in jsonb columns; grant
// conditions use the kind-tagged encoding from the rbac package.
type RBAC struct {
	db *sql.DB
}

var _ rbac.Store = (*RBAC)(nil)

func (r *RBAC) PutPermission(ctx context.Context, p rbac.Permission) error {
	deps, err := json.Marshal(p.DependsOn)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		insert into permissions(id, name, category, sensitivity, depends_on)
		values ($1,$2,$3,$4,$5)
		on conflict (id) do update
		set name=excluded.name, category=excluded.category,
		    sensitivity=excluded.sensitivity, depends_on=excluded.depends_on
	`, p.ID, p.Name, p.Category, string(p.Sensitivity), deps)
	return err
}

func (r *RBAC) GetPermission(ctx context.Context, id string) (rbac.Permission, error) {
	var (
		p    rbac.Permission
		sens string
		deps []byte
	)
	err := r.db.QueryRowContext(ctx, `
		select id, name, category, sensitivity, depends_on
		from permissions where id=$1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &sens, &deps)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Permission{}, err
	}
	p.Sensitivity = rbac.Sensitivity(sens)
	if len(deps) > 0 {
		if err := json.Unmarshal(deps, &p.DependsOn); err != nil {
			return rbac.Permission{}, err
		}
	}
	return p, nil
}

func (r *RBAC) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, name, category, sensitivity, depends_on
		from permissions order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.Permission
	for rows.Next() {
		var (
			p    rbac.Permission
			sens string
			deps []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &sens, &deps); err != nil {
			return nil, err
		}
		p.Sensitivity = rbac.Sensitivity(sens)
		if len(deps) > 0 {
			if err := json.Unmarshal(deps, &p.DependsOn); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *RBAC) PutRole(ctx context.Context, role rbac.Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return err
	}
	inherits, err := json.Marshal(role.Inherits)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		insert into roles(id, name, permissions, inherits)
		values ($1,$2,$3,$4)
		on conflict (id) do update
		set name=excluded.name, permissions=excluded.permissions, inherits=excluded.inherits
	`, role.ID, role.Name, perms, inherits)
	return err
}

func (r *RBAC) GetRole(ctx context.Context, id string) (rbac.Role, error) {
	var (
		role     rbac.Role
		perms    []byte
		inherits []byte
	)
	err := r.db.QueryRowContext(ctx, `
		select id, name, permissions, inherits from roles where id=$1
	`, id).Scan(&role.ID, &role.Name, &perms, &inherits)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Role{}, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &role.Permissions); err != nil {
			return rbac.Role{}, err
		}
	}
	if len(inherits) > 0 {
		if err := json.Unmarshal(inherits, &role.Inherits); err != nil {
			return rbac.Role{}, err
		}
	}
	return role, nil
}

func (r *RBAC) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, name, permissions, inherits from roles order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.Role
	for rows.Next() {
		var (
			role     rbac.Role
			perms    []byte
			inherits []byte
		)
		if err := rows.Scan(&role.ID, &role.Name, &perms, &inherits); err != nil {
			return nil, err
		}
		if len(perms) > 0 {
			if err := json.Unmarshal(perms, &role.Permissions); err != nil {
				return nil, err
			}
		}
		if len(inherits) > 0 {
			if err := json.Unmarshal(inherits, &role.Inherits); err != nil {
				return nil, err
			}
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *RBAC) PutGrant(ctx context.Context, g rbac.Grant) error {
	conds, err := rbac.MarshalConditions(g.Conditions)
	if err != nil {
		return err
	}
	var expires sql.NullTime
	if !g.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: g.ExpiresAt, Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
		insert into grants(id, principal_id, permission_id, granted_by, granted_at, expires_at, conditions)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (principal_id, permission_id) do update
		set id=excluded.id, granted_by=excluded.granted_by, granted_at=excluded.granted_at,
		    expires_at=excluded.expires_at, conditions=excluded.conditions
	`, g.ID, g.PrincipalID, g.PermissionID, g.GrantedBy, g.GrantedAt, expires, conds)
	return err
}

func (r *RBAC) DeleteGrant(ctx context.Context, principalID, permissionID string) error {
	res, err := r.db.ExecContext(ctx, `
		delete from grants where principal_id=$1 and permission_id=$2
	`, principalID, permissionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (r *RBAC) GrantsFor(ctx context.Context, principalID string) ([]rbac.Grant, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, principal_id, permission_id, granted_by, granted_at, expires_at, conditions
		from grants where principal_id=$1
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rbac.Grant
	for rows.Next() {
		var (
			g       rbac.Grant
			expires sql.NullTime
			conds   []byte
		)
		if err := rows.Scan(&g.ID, &g.PrincipalID, &g.PermissionID, &g.GrantedBy, &g.GrantedAt, &expires, &conds); err != nil {
			return nil, err
		}
		if expires.Valid {
			g.ExpiresAt = expires.Time
		}
		g.Conditions, err = rbac.UnmarshalConditions(conds)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *RBAC) Assign(ctx context.Context, principalID, roleID string) error {
	_, err := r.db.ExecContext(ctx, `
		insert into role_assignments(principal_id, role_id)
		values ($1,$2) on conflict do nothing
	`, principalID, roleID)
	return err
}

func (r *RBAC) Unassign(ctx context.Context, principalID, roleID string) error {
	res, err := r.db.ExecContext(ctx, `
		delete from role_assignments where principal_id=$1 and role_id=$2
	`, principalID, roleID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (r *RBAC) RolesFor(ctx context.Context, principalID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		select role_id from role_assignments where principal_id=$1 order by role_id
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
