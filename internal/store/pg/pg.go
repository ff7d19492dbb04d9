// Package pg persists principals, the RBAC catalog, attempt history,
// security events and second-factor credentials in PostgreSQL.
package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store owns the connection pool. Typed sub-stores share it.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL via the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests use this with sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Principals returns the principal sub-store.
func (s *Store) Principals() *Principals { return &Principals{db: s.db} }

// RBAC returns the authorization sub-store.
func (s *Store) RBAC() *RBAC { return &RBAC{db: s.db} }

// Attempts returns the login-attempt sub-store.
func (s *Store) Attempts() *Attempts { return &Attempts{db: s.db} }

// Events returns the security-event sub-store.
func (s *Store) Events() *Events { return &Events{db: s.db} }

// TwoFactor returns the second-factor credential sub-store.
func (s *Store) TwoFactor() *TwoFactor { return &TwoFactor{db: s.db} }
