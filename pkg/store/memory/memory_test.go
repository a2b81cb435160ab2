package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagecms/caravan/pkg/migrate"
)

func TestLedger_RecordAndLoadSorted(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, v := range []string{"0002", "0001", "0003"} {
		require.NoError(t, s.RecordApplied(ctx, migrate.AppliedRecord{
			Version:   v,
			AppliedAt: time.Now().UTC(),
		}))
	}

	records, err := s.LoadApplied(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "0001", records[0].Version)
	assert.Equal(t, "0002", records[1].Version)
	assert.Equal(t, "0003", records[2].Version)
}

func TestLedger_RecordConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec := migrate.AppliedRecord{Version: "0001", AppliedAt: time.Now().UTC()}
	require.NoError(t, s.RecordApplied(ctx, rec))

	err := s.RecordApplied(ctx, rec)
	assert.ErrorIs(t, err, migrate.ErrWriteConflict)
}

func TestLedger_RemoveMissing(t *testing.T) {
	s := New()
	err := s.RemoveApplied(context.Background(), "0001")
	assert.ErrorIs(t, err, migrate.ErrVersionNotFound)
}

func TestLock_ContentionAndRelease(t *testing.T) {
	s := New()
	ctx := context.Background()

	lock, err := s.Acquire(ctx, "holder-a", time.Minute)
	require.NoError(t, err)

	_, err = s.Acquire(ctx, "holder-b", time.Minute)
	assert.ErrorIs(t, err, migrate.ErrLockHeld)

	require.NoError(t, lock.Release(ctx))

	_, err = s.Acquire(ctx, "holder-b", time.Minute)
	assert.NoError(t, err)
}

func TestLock_StaleLeaseTakeover(t *testing.T) {
	s := New()
	ctx := context.Background()

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }

	oldLock, err := s.Acquire(ctx, "holder-a", time.Minute)
	require.NoError(t, err)

	// Lease still live: no takeover.
	now = now.Add(30 * time.Second)
	_, err = s.Acquire(ctx, "holder-b", time.Minute)
	require.ErrorIs(t, err, migrate.ErrLockHeld)

	// Lease expired: holder-b takes over.
	now = now.Add(time.Minute)
	newLock, err := s.Acquire(ctx, "holder-b", time.Minute)
	require.NoError(t, err)

	rec, err := s.CurrentLock(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "holder-b", rec.Holder)

	// The displaced holder can neither extend nor release.
	assert.ErrorIs(t, oldLock.Heartbeat(ctx, time.Minute), migrate.ErrLockLost)
	assert.ErrorIs(t, oldLock.Release(ctx), migrate.ErrLockLost)

	// The takeover is unaffected by the displaced holder's attempts.
	rec, err = s.CurrentLock(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "holder-b", rec.Holder)

	require.NoError(t, newLock.Release(ctx))
}

func TestLock_HeartbeatExtendsLease(t *testing.T) {
	s := New()
	ctx := context.Background()

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }

	lock, err := s.Acquire(ctx, "holder-a", time.Minute)
	require.NoError(t, err)

	// Heartbeat just before expiry pushes the lease forward.
	now = now.Add(50 * time.Second)
	require.NoError(t, lock.Heartbeat(ctx, time.Minute))

	// 90s after acquisition the original lease would be stale, but the
	// extended one is not.
	now = now.Add(40 * time.Second)
	_, err = s.Acquire(ctx, "holder-b", time.Minute)
	assert.ErrorIs(t, err, migrate.ErrLockHeld)
}
