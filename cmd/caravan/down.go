package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voyagecms/caravan/internal/cli"
	"github.com/voyagecms/caravan/pkg/migrate"
)

var downDB string

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last applied migration",
	Long: `Roll back the single most recently applied migration.

"Most recent" means the highest applied version, not wall-clock apply time.
Only one migration is rolled back per invocation; repeat the command to
cascade further.`,
	Example: `  # Roll back one migration
  caravan down --db mongodb://localhost:27017/voyagecms`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := resolveDSN(downDB)
		if err != nil {
			return err
		}

		return runDown(dsn)
	},
}

func init() {
	downCmd.Flags().StringVar(&downDB, "db", "", "document store URL")
}

func runDown(dsn string) error {
	ctx := context.Background()

	client, store, registry, err := openStore(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(ctx) }()

	runner := newRunner(registry, store)

	result, err := runner.RollbackLast(ctx)
	if err != nil {
		switch {
		case errors.Is(err, migrate.ErrLockHeld):
			return cli.ContentionError("another runner holds the migration lock", err)
		case errors.Is(err, migrate.ErrNothingToRollback):
			return cli.GeneralError("nothing to roll back", nil)
		default:
			return cli.GeneralError("rollback failed", err)
		}
	}

	if !quiet {
		fmt.Printf("Rolled back %s.\n", result.Version)
	}

	return nil
}
