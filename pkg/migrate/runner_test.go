package migrate_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagecms/caravan/pkg/migrate"
	"github.com/voyagecms/caravan/pkg/store/memory"
)

func noop(ctx context.Context) error { return nil }

// recorder returns an up/down body that appends its version to order.
func recorder(order *[]string, version string) func(context.Context) error {
	return func(ctx context.Context) error {
		*order = append(*order, version)
		return nil
	}
}

func newTestRunner(t *testing.T, store *memory.Store, migrations ...migrate.Migration) *migrate.Runner {
	t.Helper()
	reg, err := migrate.NewRegistry(migrations...)
	require.NoError(t, err)
	return migrate.NewRunner(reg, store, store, migrate.Options{Holder: "test-runner"})
}

func appliedVersions(t *testing.T, store *memory.Store) []string {
	t.Helper()
	records, err := store.LoadApplied(context.Background())
	require.NoError(t, err)
	versions := make([]string, len(records))
	for i, rec := range records {
		versions[i] = rec.Version
	}
	return versions
}

func TestRun_AppliesInAscendingOrderRegardlessOfDeclaration(t *testing.T) {
	store := memory.New()
	var order []string

	// Declared deliberately out of order.
	runner := newTestRunner(t, store,
		migrate.Migration{Version: "0003", Description: "third", Up: recorder(&order, "0003")},
		migrate.Migration{Version: "0001", Description: "first", Up: recorder(&order, "0001")},
		migrate.Migration{Version: "0002", Description: "second", Up: recorder(&order, "0002")},
	)

	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"0001", "0002", "0003"}, order)
	assert.Equal(t, []string{"0001", "0002", "0003"}, result.Applied)
	assert.Equal(t, []string{"0001", "0002", "0003"}, appliedVersions(t, store))
}

func TestRun_SecondInvocationAppliesNothing(t *testing.T) {
	store := memory.New()
	var calls int
	up := func(ctx context.Context) error { calls++; return nil }

	runner := newTestRunner(t, store,
		migrate.Migration{Version: "0001", Up: up},
		migrate.Migration{Version: "0002", Up: up},
	)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Equal(t, 2, calls)

	// The no-op run still cycled the lock cleanly.
	rec, err := store.CurrentLock(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	store := memory.New()
	boom := errors.New("index build failed")
	var order []string

	runner := newTestRunner(t, store,
		migrate.Migration{Version: "0001", Up: recorder(&order, "0001")},
		migrate.Migration{Version: "0002", Up: func(ctx context.Context) error { return boom }},
		migrate.Migration{Version: "0003", Up: recorder(&order, "0003")},
	)

	result, err := runner.Run(context.Background())
	require.Error(t, err)

	var migErr *migrate.MigrationError
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, "0002", migErr.Version)
	assert.Equal(t, []string{"0001"}, migErr.Applied)
	assert.ErrorIs(t, err, boom)

	// v1 recorded, v2 and v3 not; v3 never executed.
	assert.Equal(t, []string{"0001"}, result.Applied)
	assert.Equal(t, []string{"0001"}, appliedVersions(t, store))
	assert.Equal(t, []string{"0001"}, order)

	// Lock released on the failure path.
	rec, lockErr := store.CurrentLock(context.Background())
	require.NoError(t, lockErr)
	assert.Nil(t, rec)

	// Status reflects the partial progress.
	status, err := newTestRunner(t, store,
		migrate.Migration{Version: "0001", Up: noop},
		migrate.Migration{Version: "0002", Up: noop},
		migrate.Migration{Version: "0003", Up: noop},
	).Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Entries[0].Applied)
	assert.False(t, status.Entries[1].Applied)
	assert.False(t, status.Entries[2].Applied)
}

func TestRun_LockContention(t *testing.T) {
	store := memory.New()

	// Simulate another live runner.
	_, err := store.Acquire(context.Background(), "other-runner", time.Minute)
	require.NoError(t, err)

	var calls int
	runner := newTestRunner(t, store,
		migrate.Migration{Version: "0001", Up: func(ctx context.Context) error { calls++; return nil }},
	)

	_, err = runner.Run(context.Background())
	assert.ErrorIs(t, err, migrate.ErrLockHeld)
	assert.Zero(t, calls)
	assert.Empty(t, appliedVersions(t, store))
}

func TestRun_ConcurrentRunnersNeverDoubleApply(t *testing.T) {
	store := memory.New()

	var counts [3]atomic.Int32
	migrations := []migrate.Migration{
		{Version: "0001", Up: func(ctx context.Context) error { counts[0].Add(1); return nil }},
		{Version: "0002", Up: func(ctx context.Context) error { counts[1].Add(1); return nil }},
		{Version: "0003", Up: func(ctx context.Context) error { counts[2].Add(1); return nil }},
	}

	makeRunner := func(holder string) *migrate.Runner {
		reg, err := migrate.NewRegistry(migrations...)
		require.NoError(t, err)
		return migrate.NewRunner(reg, store, store, migrate.Options{Holder: holder})
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, holder := range []string{"runner-a", "runner-b"} {
		wg.Add(1)
		go func(i int, holder string) {
			defer wg.Done()
			_, errs[i] = makeRunner(holder).Run(context.Background())
		}(i, holder)
	}
	wg.Wait()

	// One runner wins; the other either hit contention or found nothing
	// pending. Either way every body ran exactly once.
	for i := range counts {
		assert.Equal(t, int32(1), counts[i].Load())
	}
	assert.Equal(t, []string{"0001", "0002", "0003"}, appliedVersions(t, store))
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, migrate.ErrLockHeld)
		}
	}
}

func TestRun_CancelledContextAppliesNothingAndReleasesLock(t *testing.T) {
	store := memory.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	runner := newTestRunner(t, store,
		migrate.Migration{Version: "0001", Up: func(ctx context.Context) error { calls++; return nil }},
	)

	_, err := runner.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
	assert.Empty(t, appliedVersions(t, store))

	rec, err := store.CurrentLock(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRun_HeartbeatKeepsLeaseAliveDuringSlowBatch(t *testing.T) {
	store := memory.New()

	reg, err := migrate.NewRegistry(migrate.Migration{
		Version: "0001",
		Up: func(ctx context.Context) error {
			time.Sleep(600 * time.Millisecond)
			return nil
		},
	})
	require.NoError(t, err)

	runner := migrate.NewRunner(reg, store, store, migrate.Options{
		Holder:            "slow-runner",
		Lease:             200 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background())
		done <- err
	}()

	// Well past the original lease: without heartbeats this takeover would
	// succeed and the batch would be preempted.
	time.Sleep(400 * time.Millisecond)
	_, err = store.Acquire(context.Background(), "impatient-runner", time.Minute)
	assert.ErrorIs(t, err, migrate.ErrLockHeld)

	require.NoError(t, <-done)
}

func TestRollbackLast_StepsBackOneVersionPerCall(t *testing.T) {
	store := memory.New()
	var downs []string

	runner := newTestRunner(t, store,
		migrate.Migration{Version: "0001", Up: noop, Down: recorder(&downs, "0001")},
		migrate.Migration{Version: "0002", Up: noop, Down: recorder(&downs, "0002")},
	)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	result, err := runner.RollbackLast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0002", result.Version)
	assert.Equal(t, []string{"0001"}, appliedVersions(t, store))

	result, err = runner.RollbackLast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0001", result.Version)
	assert.Empty(t, appliedVersions(t, store))

	_, err = runner.RollbackLast(context.Background())
	assert.ErrorIs(t, err, migrate.ErrNothingToRollback)

	assert.Equal(t, []string{"0002", "0001"}, downs)
}

func TestRollbackLast_Irreversible(t *testing.T) {
	store := memory.New()

	runner := newTestRunner(t, store,
		migrate.Migration{Version: "0001", Up: noop},
	)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	_, err = runner.RollbackLast(context.Background())
	var irr *migrate.IrreversibleError
	require.ErrorAs(t, err, &irr)
	assert.Equal(t, "0001", irr.Version)

	// Ledger entry stays intact.
	assert.Equal(t, []string{"0001"}, appliedVersions(t, store))
}

func TestRollbackLast_OrphanIsNeverTouched(t *testing.T) {
	store := memory.New()

	// Ledger entry left behind by a migration removed from the registry.
	require.NoError(t, store.RecordApplied(context.Background(), migrate.AppliedRecord{
		Version:     "9999",
		Description: "removed migration",
		AppliedAt:   time.Now().UTC(),
	}))

	runner := newTestRunner(t, store,
		migrate.Migration{Version: "0001", Up: noop, Down: noop},
	)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	// 9999 sorts last, so rollback targets it and refuses.
	_, err = runner.RollbackLast(context.Background())
	var orphan *migrate.OrphanMigrationError
	require.ErrorAs(t, err, &orphan)
	assert.Equal(t, "9999", orphan.Version)
	assert.Equal(t, []string{"0001", "9999"}, appliedVersions(t, store))
}

func TestRollbackLast_LowerOrphanSurvivesValidRollback(t *testing.T) {
	store := memory.New()

	// Orphan that sorts below the highest applied version.
	require.NoError(t, store.RecordApplied(context.Background(), migrate.AppliedRecord{
		Version:     "0001a",
		Description: "removed migration",
		AppliedAt:   time.Now().UTC(),
	}))

	runner := newTestRunner(t, store,
		migrate.Migration{Version: "0001", Up: noop, Down: noop},
		migrate.Migration{Version: "0002", Up: noop, Down: noop},
	)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	result, err := runner.RollbackLast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0002", result.Version)

	// The orphan entry is untouched.
	assert.Equal(t, []string{"0001", "0001a"}, appliedVersions(t, store))
}

func TestRollbackLast_DownFailureLeavesLedgerIntact(t *testing.T) {
	store := memory.New()
	boom := errors.New("cannot drop index")

	runner := newTestRunner(t, store,
		migrate.Migration{
			Version: "0001",
			Up:      noop,
			Down:    func(ctx context.Context) error { return boom },
		},
	)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	_, err = runner.RollbackLast(context.Background())
	var rbErr *migrate.RollbackError
	require.ErrorAs(t, err, &rbErr)
	assert.Equal(t, "0001", rbErr.Version)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"0001"}, appliedVersions(t, store))

	// Lock released on the failure path.
	rec, lockErr := store.CurrentLock(context.Background())
	require.NoError(t, lockErr)
	assert.Nil(t, rec)
}

func TestStatus_EmptyLedger(t *testing.T) {
	store := memory.New()

	runner := newTestRunner(t, store,
		migrate.Migration{Version: "0001", Description: "first", Up: noop},
		migrate.Migration{Version: "0002", Description: "second", Up: noop},
	)

	status, err := runner.Status(context.Background())
	require.NoError(t, err)

	require.Len(t, status.Entries, 2)
	assert.Equal(t, "0001", status.Entries[0].Version)
	assert.False(t, status.Entries[0].Applied)
	assert.Nil(t, status.Entries[0].AppliedAt)
	assert.Equal(t, "0002", status.Entries[1].Version)
	assert.False(t, status.Entries[1].Applied)
	assert.Empty(t, status.Orphans)
	assert.Equal(t, 2, status.PendingCount())
}

func TestStatus_SurfacesOrphans(t *testing.T) {
	store := memory.New()

	require.NoError(t, store.RecordApplied(context.Background(), migrate.AppliedRecord{
		Version:     "9999",
		Description: "removed migration",
		AppliedAt:   time.Now().UTC(),
	}))

	runner := newTestRunner(t, store,
		migrate.Migration{Version: "0001", Description: "first", Up: noop},
	)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	status, err := runner.Status(context.Background())
	require.NoError(t, err)

	require.Len(t, status.Entries, 1)
	assert.True(t, status.Entries[0].Applied)
	require.NotNil(t, status.Entries[0].AppliedAt)

	require.Len(t, status.Orphans, 1)
	assert.Equal(t, "9999", status.Orphans[0].Version)
}
