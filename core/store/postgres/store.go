// Package postgres stores addresses in a PostgreSQL table created by the
// database package migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/inboxbot/core/address"
)

const uniqueViolation = "23505"

// Store implements address.Store over sqlx.
type Store struct {
	db    *sqlx.DB
	table string
}

// New binds a Store to an open database and table name.
func New(db *sqlx.DB, table string) *Store {
	return &Store{db: db, table: pq.QuoteIdentifier(table)}
}

var _ address.Store = (*Store)(nil)

const columns = "email_address, telegram_user_id, created_at, active, usage_count, last_email_at"

// Create inserts rec; the primary key turns a duplicate into address.ErrAddressExists.
func (s *Store) Create(ctx context.Context, rec address.Record) error {
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (:email_address, :telegram_user_id, :created_at, :active, :usage_count, :last_email_at)`, s.table, columns)
	if _, err := s.db.NamedExecContext(ctx, q, rec); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return address.ErrAddressExists
		}
		return fmt.Errorf("postgres insert: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, email string) (address.Record, error) {
	var rec address.Record
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE email_address = $1`, columns, s.table)
	if err := s.db.GetContext(ctx, &rec, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return address.Record{}, address.ErrNotFound
		}
		return address.Record{}, fmt.Errorf("postgres get: %w", err)
	}
	return rec, nil
}

// ListByOwner uses the telegram_user_id index instead of a full scan.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]address.Record, error) {
	recs := []address.Record{}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE telegram_user_id = $1 ORDER BY created_at, email_address`, columns, s.table)
	if err := s.db.SelectContext(ctx, &recs, q, ownerID); err != nil {
		return nil, fmt.Errorf("postgres list: %w", err)
	}
	return recs, nil
}

func (s *Store) Deactivate(ctx context.Context, email string) error {
	q := fmt.Sprintf(`UPDATE %s SET active = FALSE WHERE email_address = $1`, s.table)
	res, err := s.db.ExecContext(ctx, q, email)
	if err != nil {
		return fmt.Errorf("postgres update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres update: %w", err)
	}
	if n == 0 {
		return address.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
