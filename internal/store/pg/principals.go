package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"trustcore.org/internal/auth"
)

// Principals implements auth.PrincipalStore.
type Principals struct {
	db *sql.DB
}

var _ auth.PrincipalStore = (*Principals)(nil)

func (p *Principals) FindByIdentifier(ctx context.Context, identifier string) (auth.Principal, error) {
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	var out auth.Principal
	err := p.db.QueryRowContext(ctx, `
		select id, identifier, password_hash, status, created_at
		from principals where identifier=$1
	`, identifier).Scan(&out.ID, &out.Identifier, &out.PasswordHash, &out.Status, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Principal{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Principal{}, err
	}
	return out, nil
}

func (p *Principals) Find(ctx context.Context, id string) (auth.Principal, error) {
	var out auth.Principal
	err := p.db.QueryRowContext(ctx, `
		select id, identifier, password_hash, status, created_at
		from principals where id=$1
	`, id).Scan(&out.ID, &out.Identifier, &out.PasswordHash, &out.Status, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Principal{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Principal{}, err
	}
	return out, nil
}

func (p *Principals) Create(ctx context.Context, principal auth.Principal) error {
	_, err := p.db.ExecContext(ctx, `
		insert into principals(id, identifier, password_hash, status, created_at)
		values ($1,$2,$3,$4,$5)
	`, principal.ID, principal.Identifier, principal.PasswordHash, principal.Status, principal.CreatedAt)
	return err
}
