package pg

import (
	"context"
	"database/sql"
	"time"

	"trustcore.org/internal/auth"
)

// Attempts implements auth.AttemptStore.
type Attempts struct {
	db *sql.DB
}

var _ auth.AttemptStore = (*Attempts)(nil)

func (a *Attempts) Append(ctx context.Context, attempt auth.Attempt) error {
	_, err := a.db.ExecContext(ctx, `
		insert into login_attempts(id, principal_id, identifier, origin, success, reason, occurred_at)
		values ($1,nullif($2,''),$3,$4,$5,$6,$7)
	`, attempt.ID, attempt.PrincipalID, attempt.Identifier, attempt.Origin,
		attempt.Success, attempt.Reason, attempt.OccurredAt)
	return err
}

func (a *Attempts) Recent(ctx context.Context, identifier string, since time.Time) ([]auth.Attempt, error) {
	rows, err := a.db.QueryContext(ctx, `
		select id, coalesce(principal_id,''), identifier, origin, success, reason, occurred_at
		from login_attempts
		where identifier=$1 and occurred_at >= $2
		order by occurred_at asc
	`, identifier, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Attempt
	for rows.Next() {
		var attempt auth.Attempt
		if err := rows.Scan(&attempt.ID, &attempt.PrincipalID, &attempt.Identifier,
			&attempt.Origin, &attempt.Success, &attempt.Reason, &attempt.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, attempt)
	}
	return out, rows.Err()
}

func (a *Attempts) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := a.db.ExecContext(ctx, `delete from login_attempts where occurred_at < $1`, before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
