// Package mongodb provides the MongoDB ledger and lock backend.
//
// The ledger lives in one collection keyed by a unique version field; the
// lock is a singleton document with a fixed well-known _id. Lock acquisition
// is a single conditional upsert so there is no window between "check" and
// "acquire".
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/voyagecms/caravan/pkg/migrate"
)

// Default collection names.
const (
	DefaultLedgerCollection = "schema_migrations"
	DefaultLockCollection   = "migration_locks"
)

// lockID is the fixed _id of the singleton lock document.
const lockID = "migration-lock"

// Store implements migrate.Ledger and migrate.Locker on a mongo.Database.
type Store struct {
	db     *mongo.Database
	ledger *mongo.Collection
	locks  *mongo.Collection
	now    func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithCollections overrides the default ledger and lock collection names.
func WithCollections(ledger, lock string) Option {
	return func(s *Store) {
		s.ledger = s.db.Collection(ledger)
		s.locks = s.db.Collection(lock)
	}
}

// WithClock overrides the time source used for lease arithmetic. For tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New builds a Store over the given database. Call EnsureIndexes once before
// first use.
func New(db *mongo.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		ledger: db.Collection(DefaultLedgerCollection),
		locks:  db.Collection(DefaultLockCollection),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ledgerDoc is the persisted shape of a migrate.AppliedRecord.
type ledgerDoc struct {
	Version     string    `bson:"version"`
	Description string    `bson:"description"`
	AppliedAt   time.Time `bson:"applied_at"`
}

// lockDoc is the persisted shape of the singleton migrate.LockRecord.
type lockDoc struct {
	ID             string    `bson:"_id"`
	Holder         string    `bson:"holder"`
	AcquiredAt     time.Time `bson:"acquired_at"`
	LeaseExpiresAt time.Time `bson:"lease_expires_at"`
}

// EnsureIndexes creates the unique version index on the ledger collection.
// Idempotent; safe to call on every startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.ledger.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("version_unique"),
	})
	if err != nil {
		return fmt.Errorf("creating ledger version index: %w", err)
	}
	return nil
}

// Ping verifies store connectivity. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// LoadApplied returns all ledger entries sorted ascending by version.
func (s *Store) LoadApplied(ctx context.Context) ([]migrate.AppliedRecord, error) {
	cursor, err := s.ledger.Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "version", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}

	var docs []ledgerDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding ledger entries: %w", err)
	}

	records := make([]migrate.AppliedRecord, len(docs))
	for i, doc := range docs {
		records[i] = migrate.AppliedRecord{
			Version:     doc.Version,
			Description: doc.Description,
			AppliedAt:   doc.AppliedAt.UTC(),
		}
	}
	return records, nil
}

// RecordApplied inserts a ledger entry. The unique version index turns a
// double-apply into migrate.ErrWriteConflict.
func (s *Store) RecordApplied(ctx context.Context, rec migrate.AppliedRecord) error {
	_, err := s.ledger.InsertOne(ctx, ledgerDoc{
		Version:     rec.Version,
		Description: rec.Description,
		AppliedAt:   rec.AppliedAt.UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("version %s: %w", rec.Version, migrate.ErrWriteConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

// RemoveApplied deletes the ledger entry for a version.
func (s *Store) RemoveApplied(ctx context.Context, version string) error {
	res, err := s.ledger.DeleteOne(ctx, bson.M{"version": version})
	if err != nil {
		return fmt.Errorf("deleting ledger entry: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("version %s: %w", version, migrate.ErrVersionNotFound)
	}
	return nil
}

// Acquire performs the conditional upsert. Three outcomes:
//   - no lock document exists: the upsert inserts one, we hold the lock
//   - a document exists with an expired lease: the filter matches, the
//     update takes it over
//   - a document exists with a live lease: the filter misses, the upsert
//     insert collides on _id, and the duplicate key error becomes ErrLockHeld
func (s *Store) Acquire(ctx context.Context, holder string, lease time.Duration) (migrate.Lock, error) {
	now := s.now().UTC()
	filter := bson.M{
		"_id":              lockID,
		"lease_expires_at": bson.M{"$lt": now},
	}
	update := bson.M{"$set": bson.M{
		"holder":           holder,
		"acquired_at":      now,
		"lease_expires_at": now.Add(lease),
	}}

	err := s.locks.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true)).Err()
	switch {
	case err == nil, errors.Is(err, mongo.ErrNoDocuments):
		// Stale takeover or fresh insert respectively.
		return &mongoLock{store: s, holder: holder}, nil
	case mongo.IsDuplicateKeyError(err):
		return nil, migrate.ErrLockHeld
	default:
		return nil, fmt.Errorf("acquiring migration lock: %w", err)
	}
}

// CurrentLock returns the lock document, or nil when the lock is free.
// Used by health checks.
func (s *Store) CurrentLock(ctx context.Context) (*migrate.LockRecord, error) {
	var doc lockDoc
	err := s.locks.FindOne(ctx, bson.M{"_id": lockID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading migration lock: %w", err)
	}
	return &migrate.LockRecord{
		Holder:         doc.Holder,
		AcquiredAt:     doc.AcquiredAt.UTC(),
		LeaseExpiresAt: doc.LeaseExpiresAt.UTC(),
	}, nil
}

type mongoLock struct {
	store  *Store
	holder string
}

func (l *mongoLock) Heartbeat(ctx context.Context, lease time.Duration) error {
	res, err := l.store.locks.UpdateOne(ctx,
		bson.M{"_id": lockID, "holder": l.holder},
		bson.M{"$set": bson.M{"lease_expires_at": l.store.now().UTC().Add(lease)}})
	if err != nil {
		return fmt.Errorf("extending migration lock lease: %w", err)
	}
	if res.MatchedCount == 0 {
		return migrate.ErrLockLost
	}
	return nil
}

func (l *mongoLock) Release(ctx context.Context) error {
	res, err := l.store.locks.DeleteOne(ctx,
		bson.M{"_id": lockID, "holder": l.holder})
	if err != nil {
		return fmt.Errorf("deleting migration lock: %w", err)
	}
	if res.DeletedCount == 0 {
		return migrate.ErrLockLost
	}
	return nil
}
