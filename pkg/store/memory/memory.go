// Package memory provides an in-process ledger and lock backend.
//
// It is used by the engine's own tests and is exported so embedding
// applications can unit-test their migration sets without a live database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/voyagecms/caravan/pkg/migrate"
)

// Store implements migrate.Ledger and migrate.Locker in process memory.
// Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	records map[string]migrate.AppliedRecord
	lock    *migrate.LockRecord

	// Now supplies timestamps for lease arithmetic. Defaults to time.Now.
	Now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]migrate.AppliedRecord),
		Now:     time.Now,
	}
}

// Ping always succeeds. It exists so the store satisfies the same
// inspection surface as the database backends.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// LoadApplied returns all records sorted ascending by version.
func (s *Store) LoadApplied(ctx context.Context) ([]migrate.AppliedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]migrate.AppliedRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// RecordApplied stores a record, failing on duplicate versions.
func (s *Store) RecordApplied(ctx context.Context, rec migrate.AppliedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.Version]; exists {
		return fmt.Errorf("version %s: %w", rec.Version, migrate.ErrWriteConflict)
	}
	s.records[rec.Version] = rec
	return nil
}

// RemoveApplied deletes the record for a version.
func (s *Store) RemoveApplied(ctx context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[version]; !exists {
		return fmt.Errorf("version %s: %w", version, migrate.ErrVersionNotFound)
	}
	delete(s.records, version)
	return nil
}

// Acquire grants the lock when it is free or the current lease has expired.
func (s *Store) Acquire(ctx context.Context, holder string, lease time.Duration) (migrate.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now().UTC()
	if s.lock != nil && !s.lock.Expired(now) && s.lock.Holder != holder {
		return nil, migrate.ErrLockHeld
	}
	s.lock = &migrate.LockRecord{
		Holder:         holder,
		AcquiredAt:     now,
		LeaseExpiresAt: now.Add(lease),
	}
	return &memLock{store: s, holder: holder}, nil
}

// CurrentLock returns a copy of the lock record, or nil when the lock is
// free. Used by health checks.
func (s *Store) CurrentLock(ctx context.Context) (*migrate.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock == nil {
		return nil, nil
	}
	rec := *s.lock
	return &rec, nil
}

type memLock struct {
	store  *Store
	holder string
}

func (l *memLock) Heartbeat(ctx context.Context, lease time.Duration) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	if l.store.lock == nil || l.store.lock.Holder != l.holder {
		return migrate.ErrLockLost
	}
	l.store.lock.LeaseExpiresAt = l.store.Now().UTC().Add(lease)
	return nil
}

func (l *memLock) Release(ctx context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	if l.store.lock == nil || l.store.lock.Holder != l.holder {
		return migrate.ErrLockLost
	}
	l.store.lock = nil
	return nil
}
