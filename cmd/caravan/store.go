package main

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/voyagecms/caravan/internal/cli"
	"github.com/voyagecms/caravan/pkg/migrate"
	"github.com/voyagecms/caravan/pkg/store/mongodb"
)

const connectTimeout = 10 * time.Second

// resolveDSN gets the store DSN from flag or config.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	if dsn == "" {
		return "", cli.ConfigError("database URL is required (use --db or set in config)", nil)
	}
	return dsn, nil
}

// openStore connects to the document store and builds the backend plus the
// CMS migration registry. The caller disconnects the returned client.
func openStore(ctx context.Context, dsn string) (*mongo.Client, *mongodb.Store, *migrate.Registry, error) {
	name, err := cfg.DatabaseName()
	if err != nil {
		return nil, nil, nil, cli.ConfigError("database configuration", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, mongooptions.Client().ApplyURI(dsn))
	if err != nil {
		return nil, nil, nil, cli.StoreConnectError("connecting to store", err)
	}

	db := client.Database(name)
	store := mongodb.New(db,
		mongodb.WithCollections(cfg.Migrate.LedgerCollection, cfg.Migrate.LockCollection))

	registry, err := migrate.NewRegistry(cmsMigrations(db)...)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, nil, cli.GeneralError("building migration registry", err)
	}

	return client, store, registry, nil
}

// newRunner builds a runner with the configured lease timings.
func newRunner(registry *migrate.Registry, store *mongodb.Store) *migrate.Runner {
	return migrate.NewRunner(registry, store, store, migrate.Options{
		Lease:             cfg.Migrate.Lease,
		HeartbeatInterval: cfg.Migrate.Heartbeat,
	})
}
