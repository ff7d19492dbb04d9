package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"trustcore.org/internal/twofactor"
)

// TwoFactor implements twofactor.Store. The TOTP secret is stored as-is;
// backup codes are already hashed by the twofactor service.
type TwoFactor struct {
	db *sql.DB
}

var _ twofactor.Store = (*TwoFactor)(nil)

func (t *TwoFactor) Get(ctx context.Context, principalID string) (twofactor.Credential, error) {
	var (
		cred      twofactor.Credential
		hashes    []byte
		confirmed sql.NullTime
	)
	err := t.db.QueryRowContext(ctx, `
		select principal_id, method, secret, backup_hashes, enabled, created_at, confirmed_at
		from twofactor_credentials where principal_id=$1
	`, principalID).Scan(&cred.PrincipalID, &cred.Method, &cred.Secret, &hashes,
		&cred.Enabled, &cred.CreatedAt, &confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return twofactor.Credential{}, twofactor.ErrStoreNotFound
	}
	if err != nil {
		return twofactor.Credential{}, err
	}
	if confirmed.Valid {
		cred.ConfirmedAt = confirmed.Time
	}
	if len(hashes) > 0 {
		if err := json.Unmarshal(hashes, &cred.BackupHashes); err != nil {
			return twofactor.Credential{}, err
		}
	}
	return cred, nil
}

func (t *TwoFactor) Put(ctx context.Context, cred twofactor.Credential) error {
	hashes, err := json.Marshal(cred.BackupHashes)
	if err != nil {
		return err
	}
	var confirmed sql.NullTime
	if !cred.ConfirmedAt.IsZero() {
		confirmed = sql.NullTime{Time: cred.ConfirmedAt, Valid: true}
	}
	_, err = t.db.ExecContext(ctx, `
		insert into twofactor_credentials(principal_id, method, secret, backup_hashes, enabled, created_at, confirmed_at)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (principal_id) do update
		set method=excluded.method, secret=excluded.secret, backup_hashes=excluded.backup_hashes,
		    enabled=excluded.enabled, confirmed_at=excluded.confirmed_at
	`, cred.PrincipalID, cred.Method, cred.Secret, hashes, cred.Enabled, cred.CreatedAt, confirmed)
	return err
}

func (t *TwoFactor) Delete(ctx context.Context, principalID string) error {
	_, err := t.db.ExecContext(ctx, `delete from twofactor_credentials where principal_id=$1`, principalID)
	return err
}
