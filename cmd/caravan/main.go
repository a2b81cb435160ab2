// Package main provides the caravan CLI, the migration operator tooling for
// the VoyageCMS document store.
//
// The CLI supports:
//   - up: apply all pending migrations in ascending version order
//   - down: roll back the single most recently applied migration
//   - status: show each migration's applied/pending state
//   - doctor: run health checks on the migration infrastructure
//
// Runs of up and down are mutually exclusive across all deployed instances:
// a leased lock in the store keeps concurrently starting instances from
// double-applying a migration. status is lock-free and read-only.
//
// Usage:
//
//	caravan [flags] <command>
//
// All commands need the store connection from --db, CARAVAN_DATABASE_URL, or
// caravan.yaml.
package main

func main() {
	Execute()
}
