// Package postgres provides the PostgreSQL ledger and lock backend.
//
// The ledger is one table keyed by version; the lock is a single-row table
// with a fixed well-known id. Acquisition is one conditional upsert so there
// is no window between "check" and "acquire".
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/voyagecms/caravan/pkg/migrate"
)

// Default table names.
const (
	DefaultLedgerTable = "caravan_migrations"
	DefaultLockTable   = "caravan_lock"
)

// lockID is the fixed key of the singleton lock row.
const lockID = "migration-lock"

// uniqueViolation is the Postgres error code for duplicate key writes.
const uniqueViolation = "23505"

// Store implements migrate.Ledger and migrate.Locker on *sql.DB.
// The caller opens the connection (driver "postgres", github.com/lib/pq).
type Store struct {
	db          *sql.DB
	ledgerTable string
	lockTable   string
	now         func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithTables overrides the default ledger and lock table names.
func WithTables(ledger, lock string) Option {
	return func(s *Store) {
		s.ledgerTable = ledger
		s.lockTable = lock
	}
}

// WithClock overrides the time source used for lease arithmetic. For tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New builds a Store over an open database handle. Call EnsureSchema once
// before first use.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
		ledgerTable: DefaultLedgerTable,
		lockTable:   DefaultLockTable,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the ledger and lock tables if they do not exist.
// Idempotent; safe to call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ledgerDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL
	)`, s.ledgerTable)
	if _, err := s.db.ExecContext(ctx, ledgerDDL); err != nil {
		return fmt.Errorf("creating ledger table: %w", err)
	}

	lockDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		acquired_at TIMESTAMPTZ NOT NULL,
		lease_expires_at TIMESTAMPTZ NOT NULL
	)`, s.lockTable)
	if _, err := s.db.ExecContext(ctx, lockDDL); err != nil {
		return fmt.Errorf("creating lock table: %w", err)
	}
	return nil
}

// Ping verifies store connectivity. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadApplied returns all ledger entries sorted ascending by version.
func (s *Store) LoadApplied(ctx context.Context) ([]migrate.AppliedRecord, error) {
	query := fmt.Sprintf(
		`SELECT version, description, applied_at FROM %s ORDER BY version ASC`,
		s.ledgerTable)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []migrate.AppliedRecord
	for rows.Next() {
		var rec migrate.AppliedRecord
		if err := rows.Scan(&rec.Version, &rec.Description, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		rec.AppliedAt = rec.AppliedAt.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordApplied inserts a ledger entry. The primary key turns a double-apply
// into migrate.ErrWriteConflict.
func (s *Store) RecordApplied(ctx context.Context, rec migrate.AppliedRecord) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (version, description, applied_at) VALUES ($1, $2, $3)`,
		s.ledgerTable)
	_, err := s.db.ExecContext(ctx, query, rec.Version, rec.Description, rec.AppliedAt.UTC())
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("version %s: %w", rec.Version, migrate.ErrWriteConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

// RemoveApplied deletes the ledger entry for a version.
func (s *Store) RemoveApplied(ctx context.Context, version string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE version = $1`, s.ledgerTable)
	res, err := s.db.ExecContext(ctx, query, version)
	if err != nil {
		return fmt.Errorf("deleting ledger entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting ledger entry: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("version %s: %w", version, migrate.ErrVersionNotFound)
	}
	return nil
}

// Acquire performs one conditional upsert: the insert wins when the lock row
// is absent, and the conflict branch takes over only an expired lease. A
// live holder's row matches neither, affects zero rows, and maps to
// ErrLockHeld.
func (s *Store) Acquire(ctx context.Context, holder string, lease time.Duration) (migrate.Lock, error) {
	now := s.now().UTC()
	query := fmt.Sprintf(`INSERT INTO %s (id, holder, acquired_at, lease_expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET holder = EXCLUDED.holder,
		    acquired_at = EXCLUDED.acquired_at,
		    lease_expires_at = EXCLUDED.lease_expires_at
		WHERE %s.lease_expires_at < $3`, s.lockTable, s.lockTable)

	res, err := s.db.ExecContext(ctx, query, lockID, holder, now, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("acquiring migration lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("acquiring migration lock: %w", err)
	}
	if n == 0 {
		return nil, migrate.ErrLockHeld
	}
	return &pgLock{store: s, holder: holder}, nil
}

// CurrentLock returns the lock row, or nil when the lock is free.
// Used by health checks.
func (s *Store) CurrentLock(ctx context.Context) (*migrate.LockRecord, error) {
	query := fmt.Sprintf(
		`SELECT holder, acquired_at, lease_expires_at FROM %s WHERE id = $1`,
		s.lockTable)
	var rec migrate.LockRecord
	err := s.db.QueryRowContext(ctx, query, lockID).
		Scan(&rec.Holder, &rec.AcquiredAt, &rec.LeaseExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading migration lock: %w", err)
	}
	rec.AcquiredAt = rec.AcquiredAt.UTC()
	rec.LeaseExpiresAt = rec.LeaseExpiresAt.UTC()
	return &rec, nil
}

type pgLock struct {
	store  *Store
	holder string
}

func (l *pgLock) Heartbeat(ctx context.Context, lease time.Duration) error {
	query := fmt.Sprintf(
		`UPDATE %s SET lease_expires_at = $1 WHERE id = $2 AND holder = $3`,
		l.store.lockTable)
	res, err := l.store.db.ExecContext(ctx, query,
		l.store.now().UTC().Add(lease), lockID, l.holder)
	if err != nil {
		return fmt.Errorf("extending migration lock lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("extending migration lock lease: %w", err)
	}
	if n == 0 {
		return migrate.ErrLockLost
	}
	return nil
}

func (l *pgLock) Release(ctx context.Context) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND holder = $2`,
		l.store.lockTable)
	res, err := l.store.db.ExecContext(ctx, query, lockID, l.holder)
	if err != nil {
		return fmt.Errorf("deleting migration lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting migration lock: %w", err)
	}
	if n == 0 {
		return migrate.ErrLockLost
	}
	return nil
}
