package migrate

import (
	"errors"
	"fmt"
)

// Sentinel errors. Match with errors.Is.
var (
	// ErrLockHeld is returned by Locker.Acquire when another runner holds an
	// unexpired lease. Transient: the caller may retry later.
	ErrLockHeld = errors.New("migration lock held by another runner")

	// ErrLockLost is returned by Lock.Heartbeat or Lock.Release when the lock
	// record no longer names the caller, typically after a lease expired
	// mid-operation and another runner took over.
	ErrLockLost = errors.New("migration lock no longer held")

	// ErrNothingToRollback is returned by RollbackLast when the ledger is empty.
	ErrNothingToRollback = errors.New("no applied migrations to roll back")

	// ErrWriteConflict is returned by Ledger.RecordApplied when an entry for
	// the version already exists. It guards against double-apply even if the
	// lock were somehow bypassed.
	ErrWriteConflict = errors.New("ledger entry already exists")

	// ErrVersionNotFound is returned by Ledger.RemoveApplied when no entry
	// exists for the version.
	ErrVersionNotFound = errors.New("ledger entry not found")
)

// DuplicateVersionError reports two registry definitions sharing a version.
// Raised at registry construction, never mid-run: this is a misconfiguration
// the application must fix before anything touches the store.
type DuplicateVersionError struct {
	Version string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("duplicate migration version %q", e.Version)
}

// MigrationError reports an up migration that failed. Versions applied
// earlier in the same run stay recorded; the operator fixes the cause and
// reruns. Blind automatic retry is never attempted.
type MigrationError struct {
	// Version is the migration that failed.
	Version string

	// Applied lists versions successfully applied earlier in this run.
	Applied []string

	// Err is the underlying cause.
	Err error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s failed: %v", e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// RollbackError reports a down migration that failed. The ledger entry stays
// intact: the rollback did not happen.
type RollbackError struct {
	Version string
	Err     error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of %s failed: %v", e.Version, e.Err)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}

// IrreversibleError reports a rollback attempt against a migration with no
// Down operation.
type IrreversibleError struct {
	Version string
}

func (e *IrreversibleError) Error() string {
	return fmt.Sprintf("migration %s is irreversible", e.Version)
}

// OrphanMigrationError reports a ledger entry whose version has no definition
// in the current registry. Registry/ledger drift requires operator
// intervention; the runner never auto-resolves it.
type OrphanMigrationError struct {
	Version string
}

func (e *OrphanMigrationError) Error() string {
	return fmt.Sprintf("migration %s is recorded as applied but has no registry definition", e.Version)
}
