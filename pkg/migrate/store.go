package migrate

import (
	"context"
	"time"
)

// AppliedRecord is the durable ledger entry for one applied migration.
// The description is a snapshot taken at apply time so the audit trail
// survives later registry edits.
type AppliedRecord struct {
	Version     string
	Description string
	AppliedAt   time.Time
}

// LockRecord is the persisted singleton lock document. At most one unexpired
// record exists at any time.
type LockRecord struct {
	Holder         string
	AcquiredAt     time.Time
	LeaseExpiresAt time.Time
}

// Expired reports whether the lease has lapsed at the given instant.
func (r LockRecord) Expired(now time.Time) bool {
	return !r.LeaseExpiresAt.After(now)
}

// Ledger is the persistent record of applied migration versions.
// All operations are single-document writes against the backing store; no
// multi-key transaction is assumed or required.
type Ledger interface {
	// LoadApplied returns all applied records, sorted ascending by version.
	LoadApplied(ctx context.Context) ([]AppliedRecord, error)

	// RecordApplied persists a record. Fails with ErrWriteConflict when an
	// entry for the version already exists.
	RecordApplied(ctx context.Context, rec AppliedRecord) error

	// RemoveApplied deletes the record for a version. Fails with
	// ErrVersionNotFound when absent.
	RemoveApplied(ctx context.Context, version string) error
}

// Locker grants leased mutual exclusion across all runner instances sharing
// a store. Acquisition is a single conditional write: it succeeds only when
// no lock record exists or the existing record's lease has expired
// (stale-lease takeover). A live holder's lock is never stolen.
type Locker interface {
	Acquire(ctx context.Context, holder string, lease time.Duration) (Lock, error)
}

// Lock is the handle returned by a successful acquisition.
type Lock interface {
	// Heartbeat extends the lease so a slow-but-alive run is not mistaken
	// for dead. Fails with ErrLockLost if the record no longer names the
	// holder.
	Heartbeat(ctx context.Context, lease time.Duration) error

	// Release deletes the lock record, but only while the record still names
	// the holder. Releasing a lock taken over by another process after lease
	// expiry fails with ErrLockLost instead of clobbering the new holder.
	Release(ctx context.Context) error
}
