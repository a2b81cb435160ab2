package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voyagecms/caravan/internal/cli"
	"github.com/voyagecms/caravan/pkg/migrate"
)

var (
	upDB     string
	upDryRun bool
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Long:  `Apply all pending migrations to the document store in ascending version order.`,
	Example: `  # Apply pending migrations
  caravan up --db mongodb://localhost:27017/voyagecms

  # Show the pending plan without applying
  caravan up --db mongodb://localhost:27017/voyagecms --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun := resolveBool(upDryRun, cfg.Migrate.DryRun)

		dsn, err := resolveDSN(upDB)
		if err != nil {
			return err
		}

		return runUp(dsn, dryRun)
	},
}

func init() {
	f := upCmd.Flags()
	f.StringVar(&upDB, "db", "", "document store URL")
	f.BoolVar(&upDryRun, "dry-run", false, "list pending migrations without applying")
}

func runUp(dsn string, dryRun bool) error {
	ctx := context.Background()

	client, store, registry, err := openStore(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(ctx) }()

	if err := store.EnsureIndexes(ctx); err != nil {
		return cli.GeneralError("preparing ledger", err)
	}

	runner := newRunner(registry, store)

	if dryRun {
		return printPlan(ctx, runner)
	}

	if !quiet {
		fmt.Println("Applying pending migrations...")
	}

	result, err := runner.Run(ctx)

	// Partial progress is real progress: report it before the failure.
	if result != nil && !quiet {
		for _, v := range result.Applied {
			fmt.Printf("applied %s\n", v)
		}
	}

	if err != nil {
		if errors.Is(err, migrate.ErrLockHeld) {
			return cli.ContentionError("another runner holds the migration lock", err)
		}
		var migErr *migrate.MigrationError
		if errors.As(err, &migErr) {
			return cli.GeneralError(fmt.Sprintf("stopped at %s", migErr.Version), migErr.Err)
		}
		return cli.GeneralError("migration run failed", err)
	}

	if !quiet {
		if len(result.Applied) == 0 {
			fmt.Println("Nothing to apply; store is up to date.")
		} else {
			fmt.Printf("Applied %d migration(s).\n", len(result.Applied))
		}
	}

	return nil
}

// printPlan lists pending migrations without taking the lock or applying
// anything.
func printPlan(ctx context.Context, runner *migrate.Runner) error {
	status, err := runner.Status(ctx)
	if err != nil {
		return cli.GeneralError("loading migration status", err)
	}

	if status.PendingCount() == 0 {
		fmt.Println("Nothing to apply; store is up to date.")
		return nil
	}

	fmt.Println("Would apply:")
	for _, e := range status.Entries {
		if !e.Applied {
			fmt.Printf("  %s  %s\n", e.Version, e.Description)
		}
	}
	return nil
}
