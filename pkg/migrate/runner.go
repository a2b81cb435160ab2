package migrate

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default lease timings. A lease several times the heartbeat interval keeps
// one missed beat from costing the lock.
const (
	DefaultLease             = 30 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
)

// releaseTimeout bounds the detached lock-release write performed on exit,
// including exits caused by a cancelled caller context.
const releaseTimeout = 10 * time.Second

// Options tunes a Runner. The zero value is usable; unset fields get
// defaults in NewRunner.
type Options struct {
	// Holder identifies this runner in the lock record. Defaults to
	// "<hostname>-<pid>-<uuid>".
	Holder string

	// Lease is the lock lease duration. Defaults to DefaultLease.
	Lease time.Duration

	// HeartbeatInterval is how often the lease is extended during a batch.
	// Defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// Now supplies timestamps for ledger entries. Defaults to time.Now.
	// Injectable for tests.
	Now func() time.Time
}

// Runner orchestrates apply-pending, rollback-last and status-merge against
// an injected Ledger and Locker. Multiple Runner instances may share a store;
// the Locker keeps their write operations mutually exclusive.
type Runner struct {
	registry *Registry
	ledger   Ledger
	locker   Locker
	opts     Options
}

// RunResult reports the outcome of a Run invocation.
type RunResult struct {
	// Applied lists the versions applied by this run, in execution order.
	// Empty when everything was already applied.
	Applied []string
}

// RollbackResult reports the outcome of a RollbackLast invocation.
type RollbackResult struct {
	// Version is the migration that was rolled back.
	Version string
}

// NewRunner builds a Runner over the given collaborators, filling option
// defaults.
func NewRunner(registry *Registry, ledger Ledger, locker Locker, opts Options) *Runner {
	if opts.Holder == "" {
		opts.Holder = defaultHolder()
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{registry: registry, ledger: ledger, locker: locker, opts: opts}
}

// defaultHolder builds an identifier unique enough to tell concurrent
// instances of a scaled deployment apart in the lock record.
func defaultHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString())
}

// Run applies all pending migrations in ascending version order.
//
// Pending is the sorted registry minus the applied versions in the ledger.
// Each migration is applied then recorded; on the first failure the batch
// stops immediately and the error is a *MigrationError naming the failed
// version and the versions applied earlier in this same run. An empty pending
// set is a no-op success that still cycles the lock.
//
// The lock is released on every exit path, including context cancellation,
// using a detached context so an aborted caller context cannot strand the
// lock until lease expiry.
func (r *Runner) Run(ctx context.Context) (result *RunResult, err error) {
	lock, err := r.locker.Acquire(ctx, r.opts.Holder, r.opts.Lease)
	if err != nil {
		return nil, err
	}
	stop := r.keepAlive(ctx, lock)
	defer func() {
		stop()
		r.release(lock, &err)
	}()

	pending, err := r.pending(ctx)
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(pending))
	for _, m := range pending {
		if cerr := ctx.Err(); cerr != nil {
			return &RunResult{Applied: applied},
				&MigrationError{Version: m.Version, Applied: applied, Err: cerr}
		}
		if uerr := m.Up(ctx); uerr != nil {
			return &RunResult{Applied: applied},
				&MigrationError{Version: m.Version, Applied: applied, Err: uerr}
		}
		rec := AppliedRecord{
			Version:     m.Version,
			Description: m.Description,
			AppliedAt:   r.opts.Now().UTC(),
		}
		if rerr := r.ledger.RecordApplied(ctx, rec); rerr != nil {
			return &RunResult{Applied: applied},
				&MigrationError{Version: m.Version, Applied: applied, Err: fmt.Errorf("recording applied version: %w", rerr)}
		}
		applied = append(applied, m.Version)
	}

	return &RunResult{Applied: applied}, nil
}

// RollbackLast reverses the single most recently applied migration, where
// "last" means the ledger entry with the maximum version by the same ordering
// used for apply. Wall-clock apply time is not authoritative; version order
// is.
//
// Fails with ErrNothingToRollback on an empty ledger, *OrphanMigrationError
// when the version has no registry definition, *IrreversibleError when the
// definition has no Down, and *RollbackError when Down itself fails. In all
// failure cases the ledger entry is left intact.
func (r *Runner) RollbackLast(ctx context.Context) (result *RollbackResult, err error) {
	lock, err := r.locker.Acquire(ctx, r.opts.Holder, r.opts.Lease)
	if err != nil {
		return nil, err
	}
	stop := r.keepAlive(ctx, lock)
	defer func() {
		stop()
		r.release(lock, &err)
	}()

	records, err := r.ledger.LoadApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNothingToRollback
	}

	last := records[0]
	for _, rec := range records[1:] {
		if rec.Version > last.Version {
			last = rec
		}
	}

	m, ok := r.registry.Lookup(last.Version)
	if !ok {
		return nil, &OrphanMigrationError{Version: last.Version}
	}
	if m.Down == nil {
		return nil, &IrreversibleError{Version: last.Version}
	}

	if derr := m.Down(ctx); derr != nil {
		return nil, &RollbackError{Version: last.Version, Err: derr}
	}
	if rerr := r.ledger.RemoveApplied(ctx, last.Version); rerr != nil {
		return nil, &RollbackError{Version: last.Version, Err: fmt.Errorf("removing ledger entry: %w", rerr)}
	}

	return &RollbackResult{Version: last.Version}, nil
}

// Status merges the registry with the ledger. It takes no lock: it only
// reads, and a torn read merely shows a transient state.
//
// Ledger entries with no matching registry definition are surfaced in
// Status.Orphans rather than silently dropped.
func (r *Runner) Status(ctx context.Context) (*Status, error) {
	records, err := r.ledger.LoadApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}

	byVersion := make(map[string]AppliedRecord, len(records))
	for _, rec := range records {
		byVersion[rec.Version] = rec
	}

	status := &Status{}
	for _, m := range r.registry.List() {
		entry := StatusEntry{Version: m.Version, Description: m.Description}
		if rec, ok := byVersion[m.Version]; ok {
			entry.Applied = true
			appliedAt := rec.AppliedAt
			entry.AppliedAt = &appliedAt
			delete(byVersion, m.Version)
		}
		status.Entries = append(status.Entries, entry)
	}

	for _, rec := range byVersion {
		status.Orphans = append(status.Orphans, rec)
	}
	sort.Slice(status.Orphans, func(i, j int) bool {
		return status.Orphans[i].Version < status.Orphans[j].Version
	})

	return status, nil
}

// pending computes sorted registry minus applied versions, preserving
// ascending order.
func (r *Runner) pending(ctx context.Context) ([]Migration, error) {
	records, err := r.ledger.LoadApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	applied := make(map[string]struct{}, len(records))
	for _, rec := range records {
		applied[rec.Version] = struct{}{}
	}

	var pending []Migration
	for _, m := range r.registry.List() {
		if _, ok := applied[m.Version]; !ok {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// keepAlive extends the lease on a ticker until the returned stop function
// is called. Heartbeat failures are not fatal here; a genuinely lost lock
// surfaces as ErrLockLost on release.
func (r *Runner) keepAlive(ctx context.Context, lock Lock) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = lock.Heartbeat(ctx, r.opts.Lease)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// release deletes the lock record on a detached context and folds a release
// failure into err only when the operation itself succeeded.
func (r *Runner) release(lock Lock, err *error) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if rerr := lock.Release(ctx); rerr != nil && *err == nil {
		*err = fmt.Errorf("releasing migration lock: %w", rerr)
	}
}
