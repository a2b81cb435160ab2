// Package migrate implements a versioned, ledger-tracked migration runner
// for shared data stores.
//
// The runner coordinates three collaborators: a Registry of migration
// definitions supplied by the embedding application, a Ledger recording which
// versions have been applied, and a Locker providing leased mutual exclusion
// so that horizontally scaled instances never double-apply a migration.
//
// Migration bodies must be safe under at-least-once execution: a run that
// crashes after a body succeeds but before the ledger write commits will
// re-invoke that body on the next run. Write bodies accordingly
// ("create index if not exists" rather than "create index").
//
// # Usage
//
//	reg, err := migrate.NewRegistry(
//	    migrate.Migration{Version: "0001", Description: "create slug index", Up: up1, Down: down1},
//	    migrate.Migration{Version: "0002", Description: "backfill status", Up: up2},
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	runner := migrate.NewRunner(reg, store, store, migrate.Options{})
//	result, err := runner.Run(ctx)
//
// Store backends live under pkg/store. The memory backend is handy for
// testing application migration sets without a live database.
package migrate

import "context"

// Migration is a single versioned change to persisted data or schema.
// Definitions are immutable at runtime; the embedding application constructs
// them once at startup and hands them to NewRegistry.
type Migration struct {
	// Version orders migrations. It must be unique within a registry and
	// monotonically comparable as a string (zero-padded sequence numbers or
	// sortable timestamps).
	Version string

	// Description is a human-readable label, snapshotted into the ledger at
	// apply time for audit.
	Description string

	// Up advances state. Required.
	Up func(ctx context.Context) error

	// Down reverses Up. A nil Down marks the migration irreversible.
	Down func(ctx context.Context) error
}

// Reversible reports whether the migration defines a Down operation.
func (m Migration) Reversible() bool {
	return m.Down != nil
}
