package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voyagecms/caravan/internal/cli"
)

var statusDB string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long: `Show each registered migration's applied/pending state.

Ledger entries with no matching migration definition are listed separately
as orphaned; they indicate registry/ledger drift and need operator attention.`,
	Example: `  # Check status
  caravan status --db mongodb://localhost:27017/voyagecms`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := resolveDSN(statusDB)
		if err != nil {
			return err
		}

		return runStatus(dsn)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusDB, "db", "", "document store URL")
}

func runStatus(dsn string) error {
	ctx := context.Background()

	client, store, registry, err := openStore(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(ctx) }()

	runner := newRunner(registry, store)

	status, err := runner.Status(ctx)
	if err != nil {
		return cli.GeneralError("loading migration status", err)
	}

	if err := status.Write(os.Stdout); err != nil {
		return cli.GeneralError("writing status", err)
	}

	if !quiet {
		fmt.Printf("\n%d pending, %d orphaned.\n", status.PendingCount(), len(status.Orphans))
	}

	return nil
}
