package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"trustcore.org/internal/audit"
)

// Events mirrors audit events into the security_events table. The in-memory
// audit log stays authoritative for queries; this is durable history.
type Events struct {
	db *sql.DB
}

var _ audit.Store = (*Events)(nil)

func (e *Events) Append(ctx context.Context, ev audit.Event) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = e.db.ExecContext(ctx, `
		insert into security_events(id, principal_id, kind, severity, description, origin, occurred_at, metadata)
		values ($1,nullif($2,''),$3,$4,$5,$6,$7,$8)
	`, ev.ID, ev.PrincipalID, ev.Kind, string(ev.Severity), ev.Description, ev.Origin, ev.OccurredAt, meta)
	return err
}
