package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voyagecms/caravan/internal/cli"
	"github.com/voyagecms/caravan/internal/doctor"
)

var (
	doctorDB      string
	doctorVerbose bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long:  `Run health checks on the migration infrastructure.`,
	Example: `  # Run health checks
  caravan doctor --db mongodb://localhost:27017/voyagecms

  # Run with verbose output
  caravan doctor --db mongodb://localhost:27017/voyagecms --verbose`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verboseFlag := resolveBool(doctorVerbose, cfg.Doctor.Verbose)

		dsn, err := resolveDSN(doctorDB)
		if err != nil {
			return err
		}

		return runDoctor(dsn, verboseFlag)
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorDB, "db", "", "document store URL")
	f.BoolVar(&doctorVerbose, "verbose", false, "show detailed output")
}

func runDoctor(dsn string, verboseFlag bool) error {
	ctx := context.Background()

	client, store, registry, err := openStore(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(ctx) }()

	if !quiet {
		fmt.Println("caravan doctor - Health Check")
	}

	d := doctor.New(store, registry)
	report, err := d.Run(ctx)
	if err != nil {
		return cli.GeneralError("running doctor", err)
	}

	report.Print(os.Stdout, verboseFlag)

	if report.HasErrors() {
		return cli.GeneralError("health checks failed", nil)
	}

	return nil
}
